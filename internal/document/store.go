// Package document stores uploaded service-request documents on the local
// filesystem. Each document is a blob file plus a JSON metadata sidecar,
// both named by the document ID.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/govflow/govflow/internal/workflow"
	"github.com/govflow/govflow/model"
)

const (
	blobExt = ".bin"
	metaExt = ".json"
)

// Metadata describes a stored document.
type Metadata struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"sha256"`
	RequestID  string    `json:"serviceRequestId"`
	FieldName  string    `json:"fieldName"`
	UploadedAt time.Time `json:"uploadedAt"`
	UploadedBy string    `json:"uploadedBy"`
}

// URL is the API path the document is served from.
func (m Metadata) URL() string {
	return "/api/documents/" + m.ID
}

// Uploaded converts the metadata into the history form of the document.
func (m Metadata) Uploaded() model.UploadedDocument {
	return model.UploadedDocument{
		ID:         m.ID,
		Name:       m.Name,
		URL:        m.URL(),
		MimeType:   m.MimeType,
		Size:       m.Size,
		FieldName:  m.FieldName,
		UploadedAt: m.UploadedAt,
		UploadedBy: m.UploadedBy,
	}
}

// Upload is one incoming file.
type Upload struct {
	RequestID  string
	FieldName  string
	Name       string
	UploadedBy string
	Body       io.Reader
}

// FSStore keeps documents in a single directory.
type FSStore struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewFSStore creates the directory if needed. maxBytes <= 0 uses
// workflow.DefaultMaxDocumentBytes.
func NewFSStore(dir string, maxBytes int64) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("document: directory is required")
	}
	if maxBytes <= 0 {
		maxBytes = workflow.DefaultMaxDocumentBytes
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("document: creating %s: %w", dir, err)
	}
	return &FSStore{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

// MaxBytes returns the per-document size cap.
func (s *FSStore) MaxBytes() int64 { return s.maxBytes }

// Save streams the upload to disk, sniffs its MIME type from the content
// and validates type and size. Nothing is left on disk when Save fails.
func (s *FSStore) Save(ctx context.Context, up Upload) (Metadata, error) {
	tmp, err := os.CreateTemp(s.dir, "upload-*.tmp")
	if err != nil {
		return Metadata{}, fmt.Errorf("document: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), io.LimitReader(up.Body, s.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return Metadata{}, fmt.Errorf("document: writing upload: %w", err)
	}
	if closeErr != nil {
		return Metadata{}, fmt.Errorf("document: closing upload: %w", closeErr)
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	name := cleanName(up.Name)
	mimeType := "application/octet-stream"
	if size > 0 && size <= s.maxBytes {
		detected, err := mimetype.DetectFile(tmpPath)
		if err != nil {
			return Metadata{}, fmt.Errorf("document: detecting type: %w", err)
		}
		mimeType = detected.String()
	}
	if err := workflow.ValidateDocument(name, mimeType, size, s.maxBytes); err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		ID:         uuid.NewString(),
		Name:       name,
		MimeType:   mimeType,
		Size:       size,
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		RequestID:  up.RequestID,
		FieldName:  up.FieldName,
		UploadedAt: s.now().UTC(),
		UploadedBy: up.UploadedBy,
	}

	if err := os.Rename(tmpPath, s.path(meta.ID, blobExt)); err != nil {
		return Metadata{}, fmt.Errorf("document: storing blob: %w", err)
	}
	keep = true

	raw, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(s.path(meta.ID, blobExt))
		return Metadata{}, fmt.Errorf("document: encoding metadata: %w", err)
	}
	if err := os.WriteFile(s.path(meta.ID, metaExt), raw, 0o640); err != nil {
		_ = os.Remove(s.path(meta.ID, blobExt))
		return Metadata{}, fmt.Errorf("document: writing metadata: %w", err)
	}
	return meta, nil
}

// Stat returns a document's metadata or NOT_FOUND.
func (s *FSStore) Stat(_ context.Context, id string) (Metadata, error) {
	if !validID(id) {
		return Metadata{}, notFound(id)
	}
	raw, err := os.ReadFile(s.path(id, metaExt))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, notFound(id)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("document: reading metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("document: decoding metadata of %s: %w", id, err)
	}
	return meta, nil
}

// Open returns the blob and its metadata. The caller closes the file.
func (s *FSStore) Open(ctx context.Context, id string) (*os.File, Metadata, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, Metadata{}, err
	}
	f, err := os.Open(s.path(id, blobExt))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Metadata{}, notFound(id)
	}
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("document: opening blob: %w", err)
	}
	return f, meta, nil
}

// Delete removes a document's blob and metadata.
func (s *FSStore) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return notFound(id)
	}
	blobErr := os.Remove(s.path(id, blobExt))
	metaErr := os.Remove(s.path(id, metaExt))
	if errors.Is(blobErr, os.ErrNotExist) && errors.Is(metaErr, os.ErrNotExist) {
		return notFound(id)
	}
	for _, err := range []error{blobErr, metaErr} {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("document: deleting %s: %w", id, err)
		}
	}
	return nil
}

// Driver reports "filesystem".
func (s *FSStore) Driver() string { return "filesystem" }

// HealthCheck verifies the storage directory is reachable.
func (s *FSStore) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("document: %s is not a directory", s.dir)
	}
	return nil
}

func (s *FSStore) path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

// validID keeps IDs to generated UUIDs so they can never escape the
// storage directory.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && !strings.ContainsAny(id, `/\.`)
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "document"
	}
	return name
}

func notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("document %q not found", id))
}
