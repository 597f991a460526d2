package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildBody(boundary string, parts ...string) []byte {
	var buf bytes.Buffer
	for _, part := range parts {
		buf.WriteString("--" + boundary + "\r\n")
		buf.WriteString(part)
		buf.WriteString("\r\n")
	}
	buf.WriteString("--" + boundary + "--\r\n")
	return buf.Bytes()
}

func fieldPart(name, value string) string {
	return fmt.Sprintf("Content-Disposition: form-data; name=\"%s\"\r\n\r\n%s", name, value)
}

func filePart(name, filename string, content []byte) string {
	return fmt.Sprintf(
		"Content-Disposition: form-data; name=\"%s\"; filename=\"%s\"\r\nContent-Type: application/octet-stream\r\n\r\n%s",
		name, filename, content,
	)
}

func sequentialNames(prefix string) NameFunc {
	counter := 0
	return func(ext string) (string, error) {
		counter++
		return fmt.Sprintf("%s-%d%s", prefix, counter, ext), nil
	}
}

func TestDecodeFieldsAndFiles(t *testing.T) {
	dir := t.TempDir()
	decoder := NewDecoder(dir)

	payload := bytes.Repeat([]byte{0x00, 0x7f, 0xff, 0x0d}, 25)
	body := buildBody("XYZ",
		fieldPart("title", "Algoritmi EKG"),
		filePart("file", "doc.pdf", payload),
	)

	form, err := decoder.Decode(body, `multipart/form-data; boundary=XYZ`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(form.Fields) != 1 {
		t.Fatalf("fields = %d, want 1", len(form.Fields))
	}
	if got := form.Fields["title"]; got != "Algoritmi EKG" {
		t.Fatalf("title = %q, want %q", got, "Algoritmi EKG")
	}
	if len(form.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(form.Files))
	}
	record, ok := form.Files["doc.pdf"]
	if !ok {
		t.Fatalf("missing file record for doc.pdf: %+v", form.Files)
	}
	if record.OriginalFilename != "doc.pdf" {
		t.Fatalf("original filename = %q, want doc.pdf", record.OriginalFilename)
	}
	if record.SizeBytes != 100 {
		t.Fatalf("size = %d, want 100", record.SizeBytes)
	}
	if !strings.HasSuffix(record.StorageName, ".pdf") {
		t.Fatalf("storage name %q should keep the .pdf extension", record.StorageName)
	}
	if record.StorageName == "doc.pdf" {
		t.Fatalf("storage name must not reuse the client filename")
	}
	stored, err := os.ReadFile(record.StoragePath)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored payload differs from input (%d bytes vs %d)", len(stored), len(payload))
	}
}

func TestDecodeMissingBoundary(t *testing.T) {
	decoder := NewDecoder(t.TempDir(), WithNameFunc(func(string) (string, error) {
		t.Fatal("name generator must not run before boundary extraction")
		return "", nil
	}))

	_, err := decoder.Decode([]byte("--XYZ\r\nignored"), "multipart/form-data")
	if !errors.Is(err, ErrMissingBoundary) {
		t.Fatalf("err = %v, want ErrMissingBoundary", err)
	}
}

func TestDecodeQuotedBoundary(t *testing.T) {
	decoder := NewDecoder(t.TempDir())
	body := buildBody("token-99", fieldPart("dept", "cardiology"))

	form, err := decoder.Decode(body, `multipart/form-data; boundary="token-99"`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := form.Fields["dept"]; got != "cardiology" {
		t.Fatalf("dept = %q, want cardiology", got)
	}
}

func TestDecodeBinaryPayloadWithEmbeddedSeparator(t *testing.T) {
	decoder := NewDecoder(t.TempDir(), WithNameFunc(sequentialNames("stored")))

	payload := []byte("head\r\n\r\nmiddle\r\n\r\ntail")
	body := buildBody("B1", filePart("file", "notes.bin", payload))

	form, err := decoder.Decode(body, "multipart/form-data; boundary=B1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	record, ok := form.Files["notes.bin"]
	if !ok {
		t.Fatalf("missing file record: %+v", form.Files)
	}
	stored, err := os.ReadFile(record.StoragePath)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored = %q, want %q", stored, payload)
	}
}

func TestDecodeDuplicateFieldLastWriteWins(t *testing.T) {
	decoder := NewDecoder(t.TempDir())
	body := buildBody("DUP",
		fieldPart("x", "a"),
		fieldPart("x", "b"),
	)

	form, err := decoder.Decode(body, "multipart/form-data; boundary=DUP")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := form.Fields["x"]; got != "b" {
		t.Fatalf("x = %q, want b", got)
	}
	if len(form.Fields) != 1 {
		t.Fatalf("fields = %d, want 1", len(form.Fields))
	}
}

func TestDecodeSkipsPartWithoutNameOrFilename(t *testing.T) {
	decoder := NewDecoder(t.TempDir())
	body := buildBody("SKIP",
		"Content-Type: text/plain\r\n\r\norphan content",
		fieldPart("kept", "yes"),
	)

	form, err := decoder.Decode(body, "multipart/form-data; boundary=SKIP")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(form.Fields) != 1 || form.Fields["kept"] != "yes" {
		t.Fatalf("fields = %+v, want only kept=yes", form.Fields)
	}
	if len(form.Files) != 0 {
		t.Fatalf("files = %+v, want none", form.Files)
	}
}

func TestDecodeClosingDelimiterProducesNoPart(t *testing.T) {
	decoder := NewDecoder(t.TempDir())
	body := buildBody("XYZ", fieldPart("only", "one"))

	form, err := decoder.Decode(body, "multipart/form-data; boundary=XYZ")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(form.Fields) != 1 {
		t.Fatalf("fields = %+v, closing delimiter must not add parts", form.Fields)
	}
}

func TestDecodeIdempotentWithInjectedNames(t *testing.T) {
	payload := []byte("same bytes every time")
	body := buildBody("REP",
		fieldPart("label", "anatomy"),
		filePart("file", "plan.txt", payload),
	)

	first := NewDecoder(t.TempDir(), WithNameFunc(sequentialNames("run")))
	second := NewDecoder(t.TempDir(), WithNameFunc(sequentialNames("run")))

	formA, err := first.Decode(body, "multipart/form-data; boundary=REP")
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	formB, err := second.Decode(body, "multipart/form-data; boundary=REP")
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if formA.Fields["label"] != formB.Fields["label"] {
		t.Fatalf("field mismatch: %q vs %q", formA.Fields["label"], formB.Fields["label"])
	}
	bytesA, err := os.ReadFile(formA.Files["plan.txt"].StoragePath)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	bytesB, err := os.ReadFile(formB.Files["plan.txt"].StoragePath)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !bytes.Equal(bytesA, bytesB) {
		t.Fatalf("stored content differs between identical decodes")
	}
	if formA.Files["plan.txt"].StorageName != formB.Files["plan.txt"].StorageName {
		t.Fatalf("injected names should match: %q vs %q",
			formA.Files["plan.txt"].StorageName, formB.Files["plan.txt"].StorageName)
	}
}

func TestDecodeWriteFailureAbortsWithoutPartialResult(t *testing.T) {
	dir := t.TempDir()
	// Make the uploads path a file so MkdirAll fails.
	blocked := filepath.Join(dir, "uploads")
	if err := os.WriteFile(blocked, []byte("occupied"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	decoder := NewDecoder(blocked)

	body := buildBody("ERR",
		fieldPart("title", "kept?"),
		filePart("file", "doc.pdf", []byte("payload")),
	)

	form, err := decoder.Decode(body, "multipart/form-data; boundary=ERR")
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("err = %v, want ErrProcessing", err)
	}
	if form.Fields != nil || form.Files != nil {
		t.Fatalf("partial form returned on failure: %+v", form)
	}
}

func TestDecodeStorageNameStripsDirectoryTraversal(t *testing.T) {
	dir := t.TempDir()
	decoder := NewDecoder(dir)

	body := buildBody("TRAV", filePart("file", "../../escape.txt", []byte("contained")))

	form, err := decoder.Decode(body, "multipart/form-data; boundary=TRAV")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	record, ok := form.Files["../../escape.txt"]
	if !ok {
		t.Fatalf("record keyed by original filename missing: %+v", form.Files)
	}
	if filepath.Dir(record.StoragePath) != dir {
		t.Fatalf("storage path %q escaped uploads dir %q", record.StoragePath, dir)
	}
}

func TestFirstFileStable(t *testing.T) {
	form := Form{Files: map[string]FileRecord{
		"b.txt": {OriginalFilename: "b.txt"},
		"a.txt": {OriginalFilename: "a.txt"},
	}}
	record, ok := form.FirstFile()
	if !ok || record.OriginalFilename != "a.txt" {
		t.Fatalf("first file = %+v (%v), want a.txt", record, ok)
	}
	if _, ok := (Form{}).FirstFile(); ok {
		t.Fatal("empty form must report no file")
	}
}
