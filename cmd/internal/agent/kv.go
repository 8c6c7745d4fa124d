package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Keys used in the cross-reload store.
const (
	KeyToken         = "token"
	KeyUser          = "user"
	KeyActiveSession = "activeSession"
)

// KV is cross-reload storage for the agent.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// ActiveSession is the sticky session pointer stored under KeyActiveSession.
type ActiveSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StoredUser is the logged-in user stored under KeyUser.
type StoredUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetJSON decodes the value under key into dst. It reports false when the
// key is absent.
func GetJSON(kv KV, key string, dst any) (bool, error) {
	raw, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("agent: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v under key.
func SetJSON(kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("agent: encode %s: %w", key, err)
	}
	return kv.Set(key, string(b))
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (k *MemoryKV) Get(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return v, ok, nil
}

func (k *MemoryKV) Set(key, value string) error {
	k.mu.Lock()
	k.m[key] = value
	k.mu.Unlock()
	return nil
}

func (k *MemoryKV) Remove(key string) error {
	k.mu.Lock()
	delete(k.m, key)
	k.mu.Unlock()
	return nil
}

// FileKV persists a flat string map as a JSON file. Writes replace the file
// atomically.
type FileKV struct {
	path string
	mu   sync.Mutex
}

// NewFileKV returns a FileKV backed by path. The file is created lazily.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

func (k *FileKV) Get(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, err := k.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (k *FileKV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, err := k.load()
	if err != nil {
		return err
	}
	m[key] = value
	return k.save(m)
}

func (k *FileKV) Remove(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, err := k.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return k.save(m)
}

func (k *FileKV) load() (map[string]string, error) {
	b, err := os.ReadFile(k.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: read kv: %w", err)
	}
	m := make(map[string]string)
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("agent: parse kv %s: %w", k.path, err)
	}
	return m, nil
}

func (k *FileKV) save(m map[string]string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("agent: kv dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".kv-*")
	if err != nil {
		return fmt.Errorf("agent: kv temp: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("agent: kv write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), k.path)
}
