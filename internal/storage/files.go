// Package storage is the byte-level collaborator for uploaded PDFs.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/mgebhardt/docintake/internal/common"
)

// FileStore resolves document payloads. The extraction pipeline only ever
// reads; writing happens at upload time.
type FileStore interface {
	ReadDocument(ctx context.Context, storedFilename string) ([]byte, error)
}

// StoredFile describes a persisted upload.
type StoredFile struct {
	StoredFilename string
	Size           int64
	ContentHash    []byte // SHA-256
	PageCount      int
}

// LocalStore keeps uploads on the local filesystem under one directory.
type LocalStore struct {
	dir string
	log *slog.Logger
}

func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, log: logger}, nil
}

// Save writes an upload under a generated name and captures size, content
// hash, and page count. Page counting is best effort: a PDF we cannot parse
// still gets stored with page_count 1 and is left for the extraction model.
func (s *LocalStore) Save(_ context.Context, originalFilename string, data []byte) (*StoredFile, error) {
	if len(data) == 0 {
		return nil, common.NewAppError("EMPTY_UPLOAD", "upload contains no bytes", common.ErrInvalidInput)
	}

	sum := sha256.Sum256(data)
	stored := uuid.New().String() + filepath.Ext(originalFilename)
	path := filepath.Join(s.dir, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	pages := CountPages(data)
	s.log.Info("storage.saved",
		"stored_filename", stored,
		"original_filename", originalFilename,
		"bytes", len(data),
		"pages", pages,
	)
	return &StoredFile{
		StoredFilename: stored,
		Size:           int64(len(data)),
		ContentHash:    sum[:],
		PageCount:      pages,
	}, nil
}

// ReadDocument loads the stored payload for a document.
func (s *LocalStore) ReadDocument(_ context.Context, storedFilename string) ([]byte, error) {
	path := filepath.Join(s.dir, filepath.Base(storedFilename))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, common.NewAppError("PAYLOAD_MISSING", fmt.Sprintf("stored file %s", storedFilename), common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	return data, nil
}

// CountPages parses the PDF structure for its page count, falling back to 1.
func CountPages(data []byte) (n int) {
	n = 1
	defer func() {
		// the pdf reader panics on some malformed files
		if recover() != nil {
			n = 1
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return n
	}
	if pages := r.NumPage(); pages > 0 {
		n = pages
	}
	return n
}
