package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown asset IDs.
var ErrNotFound = errors.New("library: asset not found")

// Store persists assets.
type Store interface {
	// Add assigns an ID and creation time if unset and saves the asset.
	Add(a Asset) (Asset, error)

	Get(id string) (Asset, error)

	// List returns assets of the given kind, newest first. An empty kind
	// lists everything.
	List(kind Kind) ([]Asset, error)

	// Delete removes the asset record and its media files.
	Delete(id string) error

	Count() int
}

// JSONStore implements Store with a single JSON file.
type JSONStore struct {
	path   string
	assets map[string]Asset
	mu     sync.RWMutex
	now    func() time.Time
}

type storeData struct {
	Version   int     `json:"version"`
	UpdatedAt string  `json:"updated_at"`
	Assets    []Asset `json:"assets"`
}

const currentVersion = 1

// NewJSONStore opens the store at path, loading it if the file exists.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path:   path,
		assets: make(map[string]Asset),
		now:    time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("library: create directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("library: read %s: %w", path, err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("library: parse %s: %w", path, err)
	}
	for _, a := range stored.Assets {
		s.assets[a.ID] = a
	}
	return s, nil
}

// save writes the catalogue through a temp file and rename. Callers hold mu.
func (s *JSONStore) save() error {
	assets := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, a)
	}
	sortNewest(assets)

	data, err := json.MarshalIndent(storeData{
		Version:   currentVersion,
		UpdatedAt: s.now().Format(time.RFC3339),
		Assets:    assets,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("library: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("library: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("library: rename: %w", err)
	}
	return nil
}

func (s *JSONStore) Add(a Asset) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	prev, existed := s.assets[a.ID]
	s.assets[a.ID] = a
	if err := s.save(); err != nil {
		if existed {
			s.assets[a.ID] = prev
		} else {
			delete(s.assets, a.ID)
		}
		return Asset{}, err
	}
	return a, nil
}

func (s *JSONStore) Get(id string) (Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *JSONStore) List(kind Kind) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	sortNewest(out)
	return out, nil
}

func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.assets, id)
	if err := s.save(); err != nil {
		s.assets[id] = a
		return err
	}
	return removeMedia(a)
}

// removeMedia deletes the files an asset points at. Files already gone are
// not an error.
func removeMedia(a Asset) error {
	var errs []error
	for _, p := range []string{a.Path, a.LivePhotoPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("library: remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}

// Path returns the catalogue file.
func (s *JSONStore) Path() string { return s.path }

func sortNewest(assets []Asset) {
	sort.Slice(assets, func(i, j int) bool {
		if !assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].CreatedAt.After(assets[j].CreatedAt)
		}
		return assets[i].ID < assets[j].ID
	})
}
