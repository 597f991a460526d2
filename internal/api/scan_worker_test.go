package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studyhub/internal/models"
	"studyhub/internal/storage"
)

func newScannerEnv(t *testing.T) (*storage.Storage, string, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	department, err := store.CreateDepartment(storage.CreateDepartmentParams{Name: "Biology", Code: "BIO"})
	if err != nil {
		t.Fatalf("create department: %v", err)
	}
	uploadDir := filepath.Join(dir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		t.Fatalf("create upload dir: %v", err)
	}
	return store, uploadDir, department.ID
}

func startScanner(t *testing.T, store *storage.Storage, uploadDir string) *DocumentScanner {
	t.Helper()
	scanner := NewDocumentScanner(DocumentScannerConfig{
		Store:     store,
		UploadDir: uploadDir,
		Workers:   1,
	})
	scanner.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := scanner.Shutdown(ctx); err != nil {
			t.Errorf("scanner shutdown: %v", err)
		}
	})
	return scanner
}

func waitForDocumentStatus(t *testing.T, store *storage.Storage, id, status string) models.Document {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		document, ok := store.GetDocument(id)
		if ok && document.Status == status {
			return document
		}
		time.Sleep(10 * time.Millisecond)
	}
	document, _ := store.GetDocument(id)
	t.Fatalf("document %s never reached %s, current status %q error %q", id, status, document.Status, document.Error)
	return models.Document{}
}

func TestDocumentScannerVerifiesPendingDocument(t *testing.T) {
	store, uploadDir, departmentID := newScannerEnv(t)

	payload := []byte("lecture notes with\r\n\r\nbinary-ish content")
	if err := os.WriteFile(filepath.Join(uploadDir, "abc123.pdf"), payload, 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	document, err := store.CreateDocument(storage.CreateDocumentParams{
		DepartmentID: departmentID,
		Title:        "Lecture notes",
		StorageName:  "abc123.pdf",
		SizeBytes:    int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	scanner := startScanner(t, store, uploadDir)
	scanner.Enqueue(document.ID)

	verified := waitForDocumentStatus(t, store, document.ID, models.DocumentStatusAvailable)
	digest := sha256.Sum256(payload)
	if verified.Checksum != hex.EncodeToString(digest[:]) {
		t.Fatalf("checksum = %q, want sha256 of payload", verified.Checksum)
	}
	if verified.Error != "" {
		t.Fatalf("verified document carries error %q", verified.Error)
	}
}

func TestDocumentScannerFailsWhenFileMissing(t *testing.T) {
	store, uploadDir, departmentID := newScannerEnv(t)

	document, err := store.CreateDocument(storage.CreateDocumentParams{
		DepartmentID: departmentID,
		Title:        "Ghost upload",
		StorageName:  "missing.pdf",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	scanner := startScanner(t, store, uploadDir)
	scanner.Enqueue(document.ID)

	failed := waitForDocumentStatus(t, store, document.ID, models.DocumentStatusFailed)
	if failed.Error == "" {
		t.Fatal("failed document should record an error message")
	}
}

func TestDocumentScannerFailsOnSizeMismatch(t *testing.T) {
	store, uploadDir, departmentID := newScannerEnv(t)

	if err := os.WriteFile(filepath.Join(uploadDir, "short.txt"), []byte("abc"), 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	document, err := store.CreateDocument(storage.CreateDocumentParams{
		DepartmentID: departmentID,
		Title:        "Truncated upload",
		StorageName:  "short.txt",
		SizeBytes:    10,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	scanner := startScanner(t, store, uploadDir)
	scanner.Enqueue(document.ID)

	waitForDocumentStatus(t, store, document.ID, models.DocumentStatusFailed)
}

func TestDocumentScannerRecoversPendingOnStart(t *testing.T) {
	store, uploadDir, departmentID := newScannerEnv(t)

	payload := []byte("left over from before the restart")
	if err := os.WriteFile(filepath.Join(uploadDir, "leftover.bin"), payload, 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	document, err := store.CreateDocument(storage.CreateDocumentParams{
		DepartmentID: departmentID,
		Title:        "Recovered upload",
		StorageName:  "leftover.bin",
		SizeBytes:    int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	startScanner(t, store, uploadDir)

	waitForDocumentStatus(t, store, document.ID, models.DocumentStatusAvailable)
}
