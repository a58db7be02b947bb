// Package cache keeps small lookups such as discovered folder ids in a
// JSON file under the XDG cache directory.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"exchangesync/internal/utils"
)

const (
	cacheFileName = "folders.json"
	// DefaultTTL is how long a cached folder id is trusted
	DefaultTTL = 7 * 24 * time.Hour
)

// CachedFolder is one cached folder id
type CachedFolder struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// CachedData represents the structure of the cache file
type CachedData struct {
	Folders map[string]CachedFolder `json:"folders"`
}

// GetCacheDir returns the XDG-compliant cache directory path
func GetCacheDir() (string, error) {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	cacheDir = filepath.Join(cacheDir, utils.AppName)
	return cacheDir, os.MkdirAll(cacheDir, 0755)
}

// GetCacheFile returns the full path to the folder cache file
func GetCacheFile() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, cacheFileName), nil
}

// FolderCache stores folder ids by key. Entries older than the TTL are
// treated as missing.
type FolderCache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewFolderCache opens the cache file in the XDG cache directory
func NewFolderCache(ttl time.Duration) (*FolderCache, error) {
	path, err := GetCacheFile()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache file: %w", err)
	}
	return NewFolderCacheAt(path, ttl), nil
}

// NewFolderCacheAt uses an explicit cache file path
func NewFolderCacheAt(path string, ttl time.Duration) *FolderCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FolderCache{path: path, ttl: ttl, now: time.Now}
}

// Load returns the cached id for key if present and fresh
func (c *FolderCache) Load(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.read()
	if err != nil {
		utils.Debugf("Folder cache unreadable: %v", err)
		return "", false
	}
	entry, ok := data.Folders[key]
	if !ok || entry.ID == "" {
		return "", false
	}
	if c.now().Sub(time.Unix(entry.Timestamp, 0)) > c.ttl {
		return "", false
	}
	return entry.ID, true
}

// Store saves id under key with the current timestamp
func (c *FolderCache) Store(key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.read()
	if err != nil {
		data = CachedData{}
	}
	if data.Folders == nil {
		data.Folders = make(map[string]CachedFolder)
	}
	data.Folders[key] = CachedFolder{ID: id, Timestamp: c.now().Unix()}
	return c.write(data)
}

// Invalidate removes key from the cache
func (c *FolderCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return c.write(CachedData{})
	}
	if _, ok := data.Folders[key]; !ok {
		return nil
	}
	delete(data.Folders, key)
	return c.write(data)
}

func (c *FolderCache) read() (CachedData, error) {
	var cached CachedData
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return cached, err
	}
	if err := json.Unmarshal(raw, &cached); err != nil {
		return cached, fmt.Errorf("corrupt cache file %s: %w", c.path, err)
	}
	return cached, nil
}

func (c *FolderCache) write(data CachedData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, raw, 0644)
}
