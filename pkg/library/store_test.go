package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(filepath.Join(t.TempDir(), "lib", "assets.json"))
	if err != nil {
		t.Fatalf("NewJSONStore() = %v", err)
	}
	return s
}

func TestAddAssignsIDAndTime(t *testing.T) {
	s := testStore(t)
	fixed := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a, err := s.Add(Asset{Kind: KindStill, Path: "/x.jpg"})
	if err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if a.ID == "" {
		t.Error("ID not assigned")
	}
	if !a.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, fixed)
	}

	got, err := s.Get(a.ID)
	if err != nil || got.Path != "/x.jpg" {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Add(Asset{Kind: KindStill, Path: "old.jpg", CreatedAt: base})
	s.Add(Asset{Kind: KindVideo, Path: "clip.mp4", CreatedAt: base.Add(time.Minute)})
	s.Add(Asset{Kind: KindStill, Path: "new.jpg", CreatedAt: base.Add(2 * time.Minute)})

	tests := []struct {
		kind Kind
		want []string
	}{
		{"", []string{"new.jpg", "clip.mp4", "old.jpg"}},
		{KindStill, []string{"new.jpg", "old.jpg"}},
		{KindVideo, []string{"clip.mp4"}},
	}
	for _, tt := range tests {
		list, err := s.List(tt.kind)
		if err != nil {
			t.Fatalf("List(%q) = %v", tt.kind, err)
		}
		if len(list) != len(tt.want) {
			t.Fatalf("List(%q) returned %d assets, want %d", tt.kind, len(list), len(tt.want))
		}
		for i, a := range list {
			if a.Path != tt.want[i] {
				t.Errorf("List(%q)[%d] = %s, want %s", tt.kind, i, a.Path, tt.want[i])
			}
		}
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	s, err := NewJSONStore(path)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := s.Add(Asset{Kind: KindVideo, Path: "clip.mp4", Frames: 90, Duration: 3 * time.Second})

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen = %v", err)
	}
	got, err := reopened.Get(a.ID)
	if err != nil {
		t.Fatalf("Get() after reopen = %v", err)
	}
	if got.Frames != 90 || got.Duration != 3*time.Second {
		t.Errorf("reloaded asset = %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	a, _ := s.Add(Asset{Kind: KindStill})

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if _, err := s.Get(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesMedia(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	still := filepath.Join(dir, "still.jpg")
	movie := filepath.Join(dir, "live.mov")
	for _, p := range []string{still, movie} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a, err := s.Add(Asset{Kind: KindStill, Path: still, LivePhotoPath: movie})
	if err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	for _, p := range []string{still, movie} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists after Delete: %v", filepath.Base(p), err)
		}
	}

	// A record whose file is already gone deletes cleanly.
	b, _ := s.Add(Asset{Kind: KindVideo, Path: filepath.Join(dir, "missing.mp4")})
	if err := s.Delete(b.ID); err != nil {
		t.Errorf("Delete() with missing file = %v", err)
	}
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := NewJSONStore(path); err == nil {
		t.Error("NewJSONStore() accepted a corrupt file")
	}
}
