package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const fileExt = ".json"

type fileEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// FileStore persists one JSON document per key under a directory, so cached
// responses survive restarts.
type FileStore struct {
	fs  afero.Fs
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewFileStore opens a store rooted at dir on the OS filesystem.
func NewFileStore(dir string) (*FileStore, error) {
	return NewFileStoreFs(afero.NewOsFs(), dir)
}

// NewFileStoreFs opens a store rooted at dir on fs.
func NewFileStoreFs(fs afero.Fs, dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache: file store needs a directory")
	}
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}
	return &FileStore{fs: fs, dir: dir, now: time.Now}, nil
}

func (f *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+fileExt)
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	f.mu.RLock()
	data, err := afero.ReadFile(f.fs, f.path(key))
	f.mu.RUnlock()
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %q: %w", key, err)
	}

	var e fileEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Key != key {
		// corrupt or colliding entry; treat as a miss and drop it
		_, _ = f.Delete(context.Background(), key)
		return nil, false, nil
	}
	if expired(f.now(), e.ExpiresAt) {
		_, _ = f.Delete(context.Background(), key)
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(fileEntry{Key: key, Value: value, ExpiresAt: expiry(f.now(), ttl)})
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	target := f.path(key)
	tmp := target + ".tmp"

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := afero.WriteFile(f.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("cache: write %q: %w", key, err)
	}
	if err := f.fs.Rename(tmp, target); err != nil {
		return fmt.Errorf("cache: commit %q: %w", key, err)
	}
	return nil
}

func (f *FileStore) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := f.Get(ctx, key)
	return ok, err
}

func (f *FileStore) Delete(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.fs.Remove(f.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: delete %q: %w", key, err)
	}
	return true, nil
}

func (f *FileStore) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := f.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *FileStore) SetMultiple(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	for k, v := range values {
		if err := f.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStore) DeleteMultiple(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if _, err := f.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return fmt.Errorf("cache: list %s: %w", f.dir, err)
	}
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), fileExt) {
			continue
		}
		if err := f.fs.Remove(filepath.Join(f.dir, info.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cache: clear %s: %w", info.Name(), err)
		}
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
