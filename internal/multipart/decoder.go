// Package multipart decodes multipart/form-data request bodies without the
// standard library reader. The decoder operates on raw byte slices end to
// end so binary payloads survive untouched, and persists file parts to the
// uploads directory under generated collision-resistant names.
package multipart

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var (
	// ErrMissingBoundary indicates the Content-Type header carried no
	// recoverable boundary parameter. Surfaced to clients as a bad request.
	ErrMissingBoundary = errors.New("multipart: content type is missing a boundary parameter")

	// ErrProcessing wraps unexpected failures while persisting file parts.
	// The decode aborts and no partial mappings are returned.
	ErrProcessing = errors.New("multipart: upload processing failed")
)

var (
	boundaryPattern = regexp.MustCompile(`boundary="?([^";]+)"?`)
	filenamePattern = regexp.MustCompile(`filename="([^"]*)"`)
	namePattern     = regexp.MustCompile(`name="([^"]*)"`)
)

// FileRecord describes one decoded file part after its payload has been
// written to the uploads directory.
type FileRecord struct {
	StorageName      string `json:"storageName"`
	OriginalFilename string `json:"originalFilename"`
	SizeBytes        int64  `json:"sizeBytes"`
	StoragePath      string `json:"storagePath"`
}

// Form holds the decoded output of one request body. Duplicate part names
// overwrite earlier entries, matching browser form semantics.
type Form struct {
	Fields map[string]string
	Files  map[string]FileRecord
}

// FirstFile returns an arbitrary-but-stable first entry of the files map:
// the record whose original filename sorts lowest. Single-file endpoints
// consume exactly this entry.
func (f Form) FirstFile() (FileRecord, bool) {
	var (
		best  FileRecord
		found bool
	)
	for name, record := range f.Files {
		if !found || name < best.OriginalFilename {
			best = record
			found = true
		}
	}
	return best, found
}

// NameFunc produces a storage filename for the provided original extension
// (including the leading dot, possibly empty).
type NameFunc func(ext string) (string, error)

// Option mutates decoder configuration.
type Option func(*Decoder)

// WithNameFunc overrides storage name generation. Tests inject deterministic
// names through this seam.
func WithNameFunc(fn NameFunc) Option {
	return func(d *Decoder) {
		if fn != nil {
			d.nameFn = fn
		}
	}
}

// Decoder decodes multipart bodies and persists file parts under dir. Each
// call operates on its own buffers; a single Decoder is safe for concurrent
// use since generated storage names never collide.
type Decoder struct {
	dir    string
	nameFn NameFunc
}

// NewDecoder constructs a decoder that stores file payloads in dir. The
// directory is created on first use.
func NewDecoder(dir string, opts ...Option) *Decoder {
	d := &Decoder{dir: dir, nameFn: randomStorageName}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dir exposes the uploads directory the decoder persists into.
func (d *Decoder) Dir() string {
	return d.dir
}

// Decode parses the raw body using the boundary extracted from contentType.
// Field parts land in Fields keyed by their name attribute; file parts are
// written to the uploads directory and recorded in Files keyed by original
// filename. Parts with neither attribute are skipped. Any persistence
// failure aborts the decode without partial results.
func (d *Decoder) Decode(body []byte, contentType string) (Form, error) {
	match := boundaryPattern.FindStringSubmatch(contentType)
	if match == nil {
		return Form{}, ErrMissingBoundary
	}
	delimiter := append([]byte("--"), []byte(match[1])...)

	form := Form{
		Fields: make(map[string]string),
		Files:  make(map[string]FileRecord),
	}

	segments := bytes.Split(body, delimiter)
	for i, segment := range segments {
		// Everything before the first boundary is preamble.
		if i == 0 {
			continue
		}
		trimmed := bytes.TrimSpace(segment)
		// The closing delimiter leaves a lone "--" segment; empty or
		// whitespace-only segments carry no part either way.
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("--")) {
			continue
		}
		if err := d.decodePart(segment, &form); err != nil {
			return Form{}, err
		}
	}
	return form, nil
}

func (d *Decoder) decodePart(segment []byte, form *Form) error {
	// Headers end at the first blank line. The payload may itself contain
	// further CRLFCRLF sequences, so only the first occurrence splits.
	idx := bytes.Index(segment, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil
	}
	header := segment[:idx]
	content := segment[idx+4:]
	// Part content always ends with one terminator before the next
	// boundary; strip exactly that one.
	content = bytes.TrimSuffix(content, []byte("\r\n"))

	if match := filenamePattern.FindSubmatch(header); match != nil {
		record, err := d.persistFile(string(match[1]), content)
		if err != nil {
			return err
		}
		form.Files[record.OriginalFilename] = record
		return nil
	}
	if match := namePattern.FindSubmatch(header); match != nil {
		form.Fields[string(match[1])] = string(content)
		return nil
	}
	// Neither filename nor name: malformed sub-part, skipped by policy.
	return nil
}

func (d *Decoder) persistFile(originalName string, content []byte) (FileRecord, error) {
	// The generated name uses only the extension from the client-supplied
	// filename, so path traversal in the original name cannot escape dir.
	ext := filepath.Ext(filepath.Base(originalName))
	storageName, err := d.nameFn(ext)
	if err != nil {
		return FileRecord{}, fmt.Errorf("%w: generate storage name: %v", ErrProcessing, err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return FileRecord{}, fmt.Errorf("%w: create uploads dir: %v", ErrProcessing, err)
	}
	storagePath := filepath.Join(d.dir, storageName)
	if err := os.WriteFile(storagePath, content, 0o644); err != nil {
		return FileRecord{}, fmt.Errorf("%w: write %s: %v", ErrProcessing, storageName, err)
	}
	return FileRecord{
		StorageName:      storageName,
		OriginalFilename: originalName,
		SizeBytes:        int64(len(content)),
		StoragePath:      storagePath,
	}, nil
}

func randomStorageName(ext string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf) + ext, nil
}
