package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T) (*FolderCache, *time.Time) {
	t.Helper()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	c := NewFolderCacheAt(filepath.Join(t.TempDir(), "cache", cacheFileName), time.Hour)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetCacheDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", tmp)

	dir, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}
	if want := filepath.Join(tmp, "exchangesync"); dir != want {
		t.Errorf("GetCacheDir() = %q, want %q", dir, want)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("cache dir not created: %v", err)
	}

	file, err := GetCacheFile()
	if err != nil {
		t.Fatalf("GetCacheFile() error = %v", err)
	}
	if want := filepath.Join(tmp, "exchangesync", "folders.json"); file != want {
		t.Errorf("GetCacheFile() = %q, want %q", file, want)
	}
}

func TestFolderCacheStoreLoad(t *testing.T) {
	c, _ := newTestCache(t)

	if _, ok := c.Load("jane@https://mail.example.com/EWS/Exchange.asmx"); ok {
		t.Error("Load() on empty cache returned a value")
	}

	if err := c.Store("jane", "AAMkFolder"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := c.Store("bob", "AAMkOther"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"jane", "AAMkFolder", true},
		{"bob", "AAMkOther", true},
		{"carol", "", false},
	}
	for _, tt := range tests {
		got, ok := c.Load(tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Load(%q) = %q, %v, want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFolderCacheExpiry(t *testing.T) {
	c, now := newTestCache(t)

	if err := c.Store("jane", "AAMkFolder"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	*now = now.Add(2 * time.Hour)

	if _, ok := c.Load("jane"); ok {
		t.Error("Load() returned an expired entry")
	}
}

func TestFolderCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(t)

	if err := c.Invalidate("jane"); err != nil {
		t.Errorf("Invalidate() on missing file error = %v", err)
	}
	if err := c.Store("jane", "AAMkFolder"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := c.Invalidate("jane"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := c.Load("jane"); ok {
		t.Error("Load() returned an invalidated entry")
	}
}

func TestFolderCacheCorruptFile(t *testing.T) {
	c, _ := newTestCache(t)
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Load("jane"); ok {
		t.Error("Load() from corrupt file returned a value")
	}
	if err := c.Store("jane", "AAMkFolder"); err != nil {
		t.Fatalf("Store() over corrupt file error = %v", err)
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		t.Fatal(err)
	}
	var data CachedData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("cache file not valid JSON after Store(): %v", err)
	}
	if data.Folders["jane"].ID != "AAMkFolder" {
		t.Errorf("stored entry = %+v", data.Folders["jane"])
	}
}
