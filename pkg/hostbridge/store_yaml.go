package hostbridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultYAMLPath = "~/.launchpad/settings.yaml"

// YAMLStore keeps settings as a flat YAML mapping in a single file. Every Set
// rewrites the file through a temp file and rename.
type YAMLStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

var _ Store = &YAMLStore{}

func NewYAMLStore(path string) (*YAMLStore, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultYAMLPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "yaml store: expand %s", path)
	}
	s := &YAMLStore{path: expanded, values: map[string]string{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *YAMLStore) Path() string {
	return s.path
}

func (s *YAMLStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "yaml store: read %s", s.path)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(b, &values); err != nil {
		return errors.Wrapf(err, "yaml store: parse %s", s.path)
	}
	if values != nil {
		s.values = values
	}
	return nil
}

func (s *YAMLStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *YAMLStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.writeLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *YAMLStore) writeLocked() error {
	b, err := yaml.Marshal(s.values)
	if err != nil {
		return errors.Wrap(err, "yaml store: marshal")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "yaml store: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return errors.Wrap(err, "yaml store: create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "yaml store: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "yaml store: close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrapf(err, "yaml store: replace %s", s.path)
	}
	return nil
}

func (s *YAMLStore) Close() error {
	return nil
}
