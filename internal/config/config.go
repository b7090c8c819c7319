// Package config loads the merged configuration §6.3 describes: a global
// file overridden by an in-repo .seagoat.yml, with unknown keys warned
// about rather than rejected.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalConfigEnv names the environment variable that overrides the
// default global config path.
const GlobalConfigEnv = "SEAGOAT_CONFIG"

// RepoConfigFile is the in-repo override file, checked at the repository
// root.
const RepoConfigFile = ".seagoat.yml"

// ChromaConfig configures the Vector Source's embedding backend.
type ChromaConfig struct {
	EmbeddingFunction string `yaml:"embeddingFunction"`
	BatchSize         int    `yaml:"batchSize"`
}

// ServerConfig configures the Engine and its transport.
type ServerConfig struct {
	Port           int          `yaml:"port"`
	IgnorePatterns []string     `yaml:"ignorePatterns"`
	ReadMaxCommits int          `yaml:"readMaxCommits"`
	Chroma         ChromaConfig `yaml:"chroma"`
}

// ClientConfig configures the CLI's transport target.
type ClientConfig struct {
	Host string `yaml:"host"`
}

// Config is the merged view of §6.3's recognized keys.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// Default returns the configuration used when neither a global nor a
// repo file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			IgnorePatterns: []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/dist/**", "**/build/**"},
			ReadMaxCommits: 10000,
			Chroma: ChromaConfig{
				EmbeddingFunction: "default",
				BatchSize:         500,
			},
		},
		Client: ClientConfig{
			Host: "localhost:8080",
		},
	}
}

// GlobalPath resolves the global config file's path: $SEAGOAT_CONFIG if
// set, else ~/.config/seagoat/config.yml.
func GlobalPath() (string, error) {
	if p := os.Getenv(GlobalConfigEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "seagoat", "config.yml"), nil
}

// Load merges the global config file with repoRoot's .seagoat.yml, the
// repo file winning key-by-key on conflict. Either file may be absent;
// absence is not an error. logger receives a warning per unrecognized key
// found in either file, matching §6.3's "warning, not failure" rule.
func Load(repoRoot string, logger *log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.Default()
	}

	cfg := Default()

	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	if err := mergeFile(cfg, globalPath, logger); err != nil {
		return nil, err
	}

	repoPath := filepath.Join(repoRoot, RepoConfigFile)
	if err := mergeFile(cfg, repoPath, logger); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeFile decodes path's YAML onto cfg in place, leaving cfg untouched
// if the file does not exist. Decoding twice (once loosely to find
// unrecognized keys, once strictly onto cfg) is what lets unknown keys
// warn instead of fail: yaml.v3's KnownFields would otherwise reject them.
func mergeFile(cfg *Config, path string, logger *log.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	for _, key := range unrecognizedKeys(data) {
		logger.Printf("config: %s: unrecognized key %q, ignoring", path, key)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var recognizedTopKeys = map[string]map[string]bool{
	"server": {"port": true, "ignorePatterns": true, "readMaxCommits": true, "chroma": true},
	"client": {"host": true},
}

// unrecognizedKeys decodes data loosely into a generic map and reports any
// key outside §6.3's table, one level deep (the table names no nested
// chroma.* keys beyond the two this Config already models).
func unrecognizedKeys(data []byte) []string {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}

	var unknown []string
	for section, keys := range raw {
		known, ok := recognizedTopKeys[section]
		if !ok {
			unknown = append(unknown, section)
			continue
		}
		for key := range keys {
			if !known[key] {
				unknown = append(unknown, section+"."+key)
			}
		}
	}
	return unknown
}
