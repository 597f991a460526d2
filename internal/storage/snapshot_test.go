package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studyhub/internal/models"
)

func TestLoadSnapshotFromJSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	source := Snapshot{
		Users: map[string]models.User{
			"u-1": {ID: "u-1", DisplayName: "Dana", Email: "dana@example.edu", Roles: []string{"admin"}, CreatedAt: now},
		},
		Departments: map[string]models.Department{
			"d-1": {ID: "d-1", Name: "Physics", Code: "PHYS", CreatedAt: now, UpdatedAt: now},
		},
		Resources: map[string]models.Resource{
			"r-1": {ID: "r-1", DepartmentID: "d-1", Title: "Optics notes", URL: "https://example.edu/optics", CreatedAt: now, UpdatedAt: now},
		},
		Sequences: map[string]int64{"u": 1, "d": 1, "r": 1},
	}
	raw, err := json.Marshal(source)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	snapshot, err := LoadSnapshotFromJSON(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromJSON error: %v", err)
	}
	counts := snapshot.Counts()
	if counts.Users != 1 || counts.Departments != 1 || counts.Resources != 1 || counts.Documents != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if snapshot.Documents == nil {
		t.Fatal("expected documents map to be initialized")
	}
	if snapshot.Users["u-1"].Email != "dana@example.edu" {
		t.Fatalf("unexpected user payload: %+v", snapshot.Users["u-1"])
	}
	if snapshot.Sequences["r"] != 1 {
		t.Fatalf("unexpected sequences: %+v", snapshot.Sequences)
	}
}

func TestLoadSnapshotFromJSONRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadSnapshotFromJSON(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoadSnapshotFromJSONMissingFile(t *testing.T) {
	if _, err := LoadSnapshotFromJSON(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected read error")
	}
}
