package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"studyhub/internal/models"
	"studyhub/internal/observability/metrics"
	"studyhub/internal/storage"
)

// DocumentScannerConfig wires the dependencies for the background worker that
// verifies freshly uploaded documents.
type DocumentScannerConfig struct {
	Store     storage.Repository
	UploadDir string
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// DocumentScanner moves documents from pending to available by checksumming
// the stored file, or to failed when the file cannot be read back.
type DocumentScanner struct {
	store     storage.Repository
	uploadDir string
	workers   int
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultScanWorkers   = 2
	defaultScanQueueSize = 64
)

func NewDocumentScanner(cfg DocumentScannerConfig) *DocumentScanner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultScanWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultScanQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DocumentScanner{
		store:     cfg.Store,
		uploadDir: cfg.UploadDir,
		workers:   workers,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan string, queueSize),
		inFlight:  make(map[string]struct{}),
	}
}

func (s *DocumentScanner) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	go s.recoverPending()
}

func (s *DocumentScanner) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DocumentScanner) Enqueue(id string) {
	if s == nil || strings.TrimSpace(id) == "" {
		return
	}
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.queue <- id:
	case <-s.ctx.Done():
	}
}

func (s *DocumentScanner) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !s.beginWork(id) {
				continue
			}
			s.scanDocument(id)
			s.finishWork(id)
		}
	}
}

func (s *DocumentScanner) beginWork(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inFlight[id]; exists {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *DocumentScanner) finishWork(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// recoverPending requeues documents that were uploaded before a restart and
// never verified.
func (s *DocumentScanner) recoverPending() {
	if s.store == nil {
		return
	}
	for _, document := range s.store.ListDocuments("") {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if document.Status == models.DocumentStatusPending {
			s.Enqueue(document.ID)
		}
	}
}

func (s *DocumentScanner) scanDocument(id string) {
	if s.store == nil {
		return
	}
	document, ok := s.store.GetDocument(id)
	if !ok {
		return
	}
	if document.Status != models.DocumentStatusPending {
		return
	}

	checksum, size, err := s.checksumFile(document.StorageName)
	if err != nil {
		s.failDocument(id, err)
		return
	}
	if document.SizeBytes > 0 && size != document.SizeBytes {
		s.failDocument(id, fmt.Errorf("stored size %d does not match recorded size %d", size, document.SizeBytes))
		return
	}

	available := models.DocumentStatusAvailable
	if _, err := s.store.UpdateDocument(id, storage.DocumentUpdate{
		Status:   &available,
		Checksum: &checksum,
		Error:    stringPtr(""),
	}); err != nil {
		s.logger.Error("failed to mark document available", "document_id", id, "error", err)
		return
	}
	metrics.DocumentVerified()
	s.logger.Info("document verified", "document_id", id, "checksum", checksum)
}

func (s *DocumentScanner) checksumFile(storageName string) (string, int64, error) {
	if strings.TrimSpace(storageName) == "" {
		return "", 0, fmt.Errorf("storage name is empty")
	}
	file, err := os.Open(filepath.Join(s.uploadDir, storageName))
	if err != nil {
		return "", 0, err
	}
	defer file.Close()
	digest := sha256.New()
	size, err := io.Copy(digest, file)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(digest.Sum(nil)), size, nil
}

func (s *DocumentScanner) failDocument(id string, cause error) {
	failed := models.DocumentStatusFailed
	message := strings.TrimSpace(cause.Error())
	if _, err := s.store.UpdateDocument(id, storage.DocumentUpdate{
		Status: &failed,
		Error:  &message,
	}); err != nil {
		s.logger.Error("failed to update failed document", "document_id", id, "error", err, "failure", cause)
		return
	}
	metrics.DocumentFailed()
	s.logger.Error("document verification failed", "document_id", id, "error", cause)
}

func stringPtr(s string) *string {
	return &s
}
