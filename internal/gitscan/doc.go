// Package gitscan enumerates a Git repository's tracked files and derives
// a frecency score per file from its commit history.
//
// The scanner composes two external programs, exactly as the design calls
// for: a file lister (`git ls-tree`) and a history walker (`git log`). It
// never links a Git implementation into the process; git is an external
// collaborator invoked over os/exec, mirroring how the original tool
// shelled out to git and ripgrep rather than embedding a Git library.
package gitscan
