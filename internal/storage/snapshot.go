package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"studyhub/internal/models"
)

// Snapshot mirrors the JSON datastore layout so it can be moved between
// backends offline.
type Snapshot struct {
	Users       map[string]models.User       `json:"users"`
	Departments map[string]models.Department `json:"departments"`
	Resources   map[string]models.Resource   `json:"resources"`
	Documents   map[string]models.Document   `json:"documents"`
	Sequences   map[string]int64             `json:"sequences"`
}

// SnapshotCounts summarizes how many records a snapshot holds.
type SnapshotCounts struct {
	Users       int
	Departments int
	Resources   int
	Documents   int
}

// Counts returns the record totals for the snapshot.
func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Users:       len(s.Users),
		Departments: len(s.Departments),
		Resources:   len(s.Resources),
		Documents:   len(s.Documents),
	}
}

// LoadSnapshotFromJSON reads a JSON datastore file from disk.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if snapshot.Users == nil {
		snapshot.Users = make(map[string]models.User)
	}
	if snapshot.Departments == nil {
		snapshot.Departments = make(map[string]models.Department)
	}
	if snapshot.Resources == nil {
		snapshot.Resources = make(map[string]models.Resource)
	}
	if snapshot.Documents == nil {
		snapshot.Documents = make(map[string]models.Document)
	}
	if snapshot.Sequences == nil {
		snapshot.Sequences = make(map[string]int64)
	}
	return snapshot, nil
}

// ImportSnapshot copies every record from the snapshot into Postgres inside a
// single transaction. Existing rows with the same ID are left untouched, and
// ID sequences only ever move forward.
func (r *PostgresStorage) ImportSnapshot(ctx context.Context, snapshot Snapshot) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Departments first so resource and document foreign keys resolve.
	for _, department := range snapshot.Departments {
		_, err := tx.Exec(ctx, `
INSERT INTO departments (id, name, code, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, department.ID, department.Name, department.Code, department.Description,
			department.CreatedAt, department.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import department %s: %w", department.ID, err)
		}
	}
	for _, user := range snapshot.Users {
		roles := user.Roles
		if roles == nil {
			roles = []string{}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO users (id, display_name, email, roles, password_hash, self_signup, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING
`, user.ID, user.DisplayName, user.Email, roles, user.PasswordHash, user.SelfSignup, user.CreatedAt)
		if err != nil {
			return fmt.Errorf("import user %s: %w", user.ID, err)
		}
	}
	for _, resource := range snapshot.Resources {
		tags := resource.Tags
		if tags == nil {
			tags = []string{}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO resources (id, department_id, title, url, description, tags, added_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING
`, resource.ID, resource.DepartmentID, resource.Title, resource.URL, resource.Description,
			tags, resource.AddedBy, resource.CreatedAt, resource.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import resource %s: %w", resource.ID, err)
		}
	}
	for _, document := range snapshot.Documents {
		_, err := tx.Exec(ctx, `
INSERT INTO documents (id, department_id, title, original_filename, storage_name, size_bytes,
	content_type, checksum, status, error, uploaded_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING
`, document.ID, document.DepartmentID, document.Title, document.OriginalFilename,
			document.StorageName, document.SizeBytes, document.ContentType, document.Checksum,
			document.Status, document.Error, document.UploadedBy, document.CreatedAt, document.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import document %s: %w", document.ID, err)
		}
	}
	for name, value := range snapshot.Sequences {
		_, err := tx.Exec(ctx, `
INSERT INTO id_sequences (name, value) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET value = GREATEST(id_sequences.value, EXCLUDED.value)
`, name, value)
		if err != nil {
			return fmt.Errorf("import sequence %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import transaction: %w", err)
	}
	return nil
}
