package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/kathakali/internal/guider"
)

func TestProfileRepository_CreateAndGet(t *testing.T) {
	repo := newTestStore(t).Profiles()

	cfg := guider.DefaultConfig()
	cfg.Blink.Threshold = 0.17
	cfg.Mouth.Mode = guider.MouthOpen

	p := &Profile{ID: "p1", Name: "studio", Description: "ring light", Config: cfg}
	if err := repo.Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	byID, err := repo.GetByID("p1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if diff := cmp.Diff(cfg, byID.Config); diff != "" {
		t.Errorf("config round trip mismatch (-want +got):\n%s", diff)
	}
	if byID.Description != "ring light" {
		t.Errorf("Description = %q", byID.Description)
	}

	byName, err := repo.Lookup("studio")
	if err != nil {
		t.Fatalf("Lookup by name: %v", err)
	}
	if byName.ID != "p1" {
		t.Errorf("Lookup(studio).ID = %q, want p1", byName.ID)
	}
}

func TestProfileRepository_Create_Invalid(t *testing.T) {
	repo := newTestStore(t).Profiles()

	cfg := guider.DefaultConfig()
	cfg.Mouth.Mode = "whistle"

	err := repo.Create(&Profile{ID: "p1", Name: "bad", Config: cfg})
	if !errors.Is(err, guider.ErrInvalidConfig) {
		t.Errorf("Create() error = %v, want ErrInvalidConfig", err)
	}
}

func TestProfileRepository_Create_DuplicateName(t *testing.T) {
	repo := newTestStore(t).Profiles()

	if err := repo.Create(&Profile{ID: "p1", Name: "same", Config: guider.DefaultConfig()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(&Profile{ID: "p2", Name: "same", Config: guider.DefaultConfig()}); err == nil {
		t.Error("expected unique constraint error for duplicate name")
	}
}

func TestProfileRepository_List(t *testing.T) {
	repo := newTestStore(t).Profiles()

	for _, name := range []string{"first", "second", "third"} {
		if err := repo.Create(&Profile{ID: name, Name: name, Config: guider.DefaultConfig()}); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	profiles, err := repo.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var names []string
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"third", "second", "first"}, names); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}
}

func TestProfileRepository_UpdateDelete(t *testing.T) {
	repo := newTestStore(t).Profiles()

	p := &Profile{ID: "p1", Name: "before", Config: guider.DefaultConfig()}
	if err := repo.Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	p.Name = "after"
	p.Config.Head.MaxAngle = 0.8
	if err := repo.Update(p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByName("after")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.Config.Head.MaxAngle != 0.8 {
		t.Errorf("MaxAngle = %v, want 0.8", got.Config.Head.MaxAngle)
	}

	if err := repo.Update(&Profile{ID: "missing", Name: "x", Config: guider.DefaultConfig()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}

	if err := repo.Delete("p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := repo.Lookup("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after delete = %v, want ErrNotFound", err)
	}
}

func TestParseProfileConfig(t *testing.T) {
	t.Run("partial overlay keeps defaults", func(t *testing.T) {
		cfg, err := ParseProfileConfig([]byte("blink:\n  threshold: 0.15\nbody:\n  source: face\n"))
		if err != nil {
			t.Fatalf("ParseProfileConfig: %v", err)
		}

		want := guider.DefaultConfig()
		want.Blink.Threshold = 0.15
		want.Body.Source = guider.BodyFace
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		_, err := ParseProfileConfig([]byte("head:\n  smoothing:\n    mode: wobble\n"))
		if !errors.Is(err, guider.ErrInvalidConfig) {
			t.Errorf("error = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		if _, err := ParseProfileConfig([]byte("blink: [")); err == nil {
			t.Error("expected parse error")
		}
	})
}
