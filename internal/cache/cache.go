// Package cache implements the on-disk device capability cache of spec
// §4.F: one file per input path, holding the last-observed (type,
// code) capability set plus a format version, so persist=full can
// pre-create an output before its input device reappears.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/KarsMulder/evsieve/internal/capability"
	"github.com/KarsMulder/evsieve/internal/statedir"
)

// FormatVersion is bumped whenever Entry's shape changes incompatibly;
// Load treats a mismatched version the same as a corrupted file (spec
// §4.F's supplemented behaviour, see SPEC_FULL.md).
const FormatVersion = 1

// Entry is the on-disk representation of one input's cached
// capability set.
type Entry struct {
	FormatVersion int              `json:"format_version"`
	Keys          []capability.Key `json:"keys"`
}

// Cache is the device-cache directory rooted at statedir.Root().
type Cache struct {
	dir string
}

// Open ensures the cache directory exists and returns a handle to it.
func Open() (*Cache, error) {
	dir, err := statedir.EnsureDir("device-cache")
	if err != nil {
		return nil, fmt.Errorf("cache.Open: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// pathHash turns a device path into a stable filename. sha1 is
// adequate here: this is a filename-collision avoidance hash, not a
// security boundary, and no pack example ships a path-hashing helper
// worth reusing instead.
func pathHash(devicePath string) string {
	sum := sha1.Sum([]byte(devicePath))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) entryPath(devicePath string) string {
	return filepath.Join(c.dir, pathHash(devicePath))
}

// Load returns the cached capability set for devicePath, or ok=false
// if there is no cache entry or it is corrupted/unreadable — per spec
// §4.F, "Corrupted/unreadable cache files are treated as 'no cache'
// (warned, not fatal)".
func (c *Cache) Load(devicePath string, logger *slog.Logger) (caps capability.Set, ok bool) {
	data, err := os.ReadFile(c.entryPath(devicePath))
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		if logger != nil {
			logger.Warn("device cache: corrupted entry, ignoring", "path", devicePath, "error", err)
		}
		return nil, false
	}

	if entry.FormatVersion != FormatVersion {
		if logger != nil {
			logger.Warn("device cache: format version mismatch, ignoring", "path", devicePath, "found", entry.FormatVersion, "want", FormatVersion)
		}
		return nil, false
	}

	caps = capability.NewSet()
	for _, k := range entry.Keys {
		caps.Add(k.Type, k.Code)
	}

	return caps, true
}

// Store writes devicePath's capability set, taking an flock-based
// advisory lock so concurrent evsieve processes sharing a state
// directory don't tear each other's writes.
func (c *Cache) Store(devicePath string, caps capability.Set) error {
	entry := Entry{FormatVersion: FormatVersion, Keys: make([]capability.Key, 0, len(caps))}
	for k := range caps {
		entry.Keys = append(entry.Keys, k)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache.Store: %w", err)
	}

	path := c.entryPath(devicePath)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("cache.Store: acquiring lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cache.Store: %w", err)
	}

	return nil
}
