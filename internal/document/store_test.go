package document

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govflow/govflow/model"
)

var pdfBody = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

func newStore(t *testing.T, maxBytes int64) (*FSStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFSStore(dir, maxBytes)
	require.NoError(t, err)
	return s, dir
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	items, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name())
	}
	return names
}

func TestSave_openRoundTrip(t *testing.T) {
	s, dir := newStore(t, 0)
	ctx := context.Background()

	meta, err := s.Save(ctx, Upload{
		RequestID: "req-1", FieldName: "deed", Name: "C:\\scans\\deed.pdf", UploadedBy: "u1",
		Body: bytes.NewReader(pdfBody),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "deed.pdf", meta.Name)
	assert.Equal(t, "application/pdf", meta.MimeType)
	assert.Equal(t, int64(len(pdfBody)), meta.Size)
	assert.Len(t, meta.Checksum, 64)
	assert.Len(t, entries(t, dir), 2)

	f, got, err := s.Open(ctx, meta.ID)
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, body)
	assert.Equal(t, meta.ID, got.ID)
	assert.Equal(t, "req-1", got.RequestID)

	doc := got.Uploaded()
	assert.Equal(t, "/api/documents/"+meta.ID, doc.URL)
	assert.Equal(t, "deed", doc.FieldName)
	assert.Equal(t, "u1", doc.UploadedBy)
}

func TestSave_sniffsTypeFromContent(t *testing.T) {
	s, _ := newStore(t, 0)

	meta, err := s.Save(context.Background(), Upload{Name: "notes.pdf", Body: strings.NewReader("plain words only\n")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(meta.MimeType, "text/plain"), meta.MimeType)
}

func TestSave_rejections(t *testing.T) {
	elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 64)...)

	tests := []struct {
		name     string
		maxBytes int64
		body     []byte
		errKind  string
	}{
		{"too large", 16, bytes.Repeat([]byte("a"), 32), model.ErrPayloadTooLarge},
		{"empty", 0, nil, model.ErrValidationFailure},
		{"unsupported type", 0, elf, model.ErrValidationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dir := newStore(t, tt.maxBytes)
			_, err := s.Save(context.Background(), Upload{Name: "x", Body: bytes.NewReader(tt.body)})
			assert.Equal(t, tt.errKind, model.KindOf(err))
			assert.Empty(t, entries(t, dir), "nothing is left on disk")
		})
	}
}

func TestSave_exactLimitIsAccepted(t *testing.T) {
	s, _ := newStore(t, 8)
	_, err := s.Save(context.Background(), Upload{Name: "a.txt", Body: strings.NewReader("12345678")})
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	s, dir := newStore(t, 0)
	ctx := context.Background()
	meta, err := s.Save(ctx, Upload{Name: "a.pdf", Body: bytes.NewReader(pdfBody)})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, meta.ID))
	assert.Empty(t, entries(t, dir))

	assert.True(t, model.IsKind(s.Delete(ctx, meta.ID), model.ErrNotFound))
	_, _, err = s.Open(ctx, meta.ID)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
}

func TestOpen_rejectsForeignIDs(t *testing.T) {
	s, _ := newStore(t, 0)
	for _, id := range []string{"", "../config", "abc", "a/b"} {
		_, _, err := s.Open(context.Background(), id)
		assert.True(t, model.IsKind(err, model.ErrNotFound), id)
	}
}

func TestHealthCheck(t *testing.T) {
	s, dir := newStore(t, 0)
	assert.NoError(t, s.HealthCheck(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, s.HealthCheck(context.Background()))
}

func TestNewFSStore_requiresDirectory(t *testing.T) {
	_, err := NewFSStore("", 0)
	assert.Error(t, err)
}
