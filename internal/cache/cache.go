package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"seagoat/pkg/types"
)

// CacheFormatVersion is bumped whenever the persisted shape changes.
// Bumping it routes every repo to a new cache directory, which implicitly
// invalidates every prior cache without a migration step.
const CacheFormatVersion = 1

var bucketName = []byte("seagoat")

const (
	keyAnalyzedSet = "analyzed_set"
	keyFrecency    = "frecency"
	keyStateHash   = "state_hash"
)

// State is the persisted shape of one repository's cache.
type State struct {
	AnalyzedSet map[string]struct{} `json:"analyzed_set"`
	Frecency    map[string]float64  `json:"frecency"`
	StateHash   string              `json:"state_hash"`
}

// Empty returns a freshly initialized, empty State.
func Empty() *State {
	return &State{AnalyzedSet: map[string]struct{}{}, Frecency: map[string]float64{}}
}

// Cache is a durable key-value store scoped to one repository path and
// cache format version.
type Cache struct {
	db  *bbolt.DB
	dir string
}

// Dir returns "<cacheRoot>/<hex(sha256(formatVersion||repoPath))>", the
// directory a bump of CacheFormatVersion routes to a fresh copy of.
func Dir(cacheRoot, repoPath string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d%s", CacheFormatVersion, repoPath)))
	return filepath.Join(cacheRoot, hex.EncodeToString(h[:]))
}

// Open opens (creating if absent) the cache for repoPath under cacheRoot.
func Open(cacheRoot, repoPath string) (*Cache, error) {
	dir := Dir(cacheRoot, repoPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "cache.db"), 0o644, nil)
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "cache.Open", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Cache{db: db, dir: dir}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Dir reports the directory this cache instance is persisted under.
func (c *Cache) Dir() string {
	return c.dir
}

// Load reads the persisted State. An absent or unreadable payload for any
// key returns an empty State, not an error — the cache is allowed to be
// cold. A present but structurally invalid payload returns CacheCorrupt.
func (c *Cache) Load() (*State, error) {
	state := Empty()

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		if raw := b.Get([]byte(keyAnalyzedSet)); raw != nil {
			var ids []string
			if err := json.Unmarshal(raw, &ids); err != nil {
				return types.NewError(types.KindCacheCorrupt, "cache.Load", err)
			}
			for _, id := range ids {
				state.AnalyzedSet[id] = struct{}{}
			}
		}

		if raw := b.Get([]byte(keyFrecency)); raw != nil {
			if err := json.Unmarshal(raw, &state.Frecency); err != nil {
				return types.NewError(types.KindCacheCorrupt, "cache.Load", err)
			}
		}

		if raw := b.Get([]byte(keyStateHash)); raw != nil {
			state.StateHash = string(raw)
		}

		return nil
	})

	if err != nil {
		var kindErr *types.Error
		if errors.As(err, &kindErr) && kindErr.Kind == types.KindCacheCorrupt {
			return Empty(), err
		}
		return nil, err
	}

	return state, nil
}

// Save persists State atomically: bbolt commits the whole transaction or
// none of it, so a crash mid-write never leaves a half-updated cache.
func (c *Cache) Save(state *State) error {
	ids := make([]string, 0, len(state.AnalyzedSet))
	for id := range state.AnalyzedSet {
		ids = append(ids, id)
	}

	analyzedJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal analyzed set: %w", err)
	}
	frecencyJSON, err := json.Marshal(state.Frecency)
	if err != nil {
		return fmt.Errorf("marshal frecency: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if err := b.Put([]byte(keyAnalyzedSet), analyzedJSON); err != nil {
			return err
		}
		if err := b.Put([]byte(keyFrecency), frecencyJSON); err != nil {
			return err
		}
		return b.Put([]byte(keyStateHash), []byte(state.StateHash))
	})
}

// Reset discards the cache's contents, leaving the AnalyzedSet empty. The
// engine calls this after a CacheCorrupt error to start fresh.
func (c *Cache) Reset() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}
