// Package yamlstore keeps beads configuration in .beads/config.yaml.
//
// Keys are written flat and sorted ("lock.timeout: 5s"). Reading also
// accepts nested mappings, which are flattened with dots, so a
// hand-written "lock: {timeout: 5s}" reads as lock.timeout. When both
// spellings name the same key the flat one wins.
package yamlstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"beads-engine/internal/config"
	"beads-engine/internal/lockfile"
)

const header = "# beads configuration; edit with `bd config set`\n"

// YAMLStore implements config.Store on a YAML file. Writes from several
// processes are serialized through a lock file next to it, and each write
// re-reads the file first so concurrent edits to other keys survive.
type YAMLStore struct {
	path string
	lock *lockfile.Controller

	mu        sync.RWMutex
	persisted map[string]string
	overrides map[string]string
}

// New loads the file at path. A missing or empty file is an empty
// configuration; the file is created by the first Set.
func New(path string) (*YAMLStore, error) {
	data, err := load(path)
	if err != nil {
		return nil, err
	}
	return &YAMLStore{
		path:      path,
		lock:      lockfile.New(path+".lock", nil),
		persisted: data,
		overrides: make(map[string]string),
	}, nil
}

// Path returns the config file path.
func (s *YAMLStore) Path() string { return s.path }

func (s *YAMLStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[key]; ok {
		return v, true
	}
	v, ok := s.persisted[key]
	return v, ok
}

func (s *YAMLStore) Set(key, value string) error {
	return s.update(func(m map[string]string) { m[key] = value })
}

func (s *YAMLStore) SetInMemory(key, value string) {
	s.mu.Lock()
	s.overrides[key] = value
	s.mu.Unlock()
}

func (s *YAMLStore) Unset(key string) error {
	return s.update(func(m map[string]string) { delete(m, key) })
}

func (s *YAMLStore) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.persisted)+len(s.overrides))
	for k, v := range s.persisted {
		out[k] = v
	}
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// update applies fn to the current file contents under the lock and
// writes the result back atomically.
func (s *YAMLStore) update(fn func(map[string]string)) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return s.lock.WithLock(context.Background(), func() error {
		fresh, err := load(s.path)
		if err != nil {
			return err
		}
		fn(fresh)

		raw, err := encode(fresh)
		if err != nil {
			return err
		}
		if err := atomic.WriteFile(s.path, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		s.mu.Lock()
		s.persisted = fresh
		s.mu.Unlock()
		return nil
	})
}

func load(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return decode(raw)
}

func decode(raw []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	out := make(map[string]string, len(doc))
	if err := flatten("", doc, out); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return out, nil
}

// flatten visits keys in sorted order, so "lock.timeout" is applied after
// the nested "lock" mapping and wins.
func flatten(prefix string, m map[string]any, out map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			if err := flatten(key, v, out); err != nil {
				return err
			}
		case []any:
			return fmt.Errorf("%s: lists are not supported", key)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return nil
}

func encode(m map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	if len(m) == 0 {
		return buf.Bytes(), nil
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

var _ config.Store = (*YAMLStore)(nil)
