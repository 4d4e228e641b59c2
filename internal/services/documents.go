package services

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StoredFile is an upload written to disk.
type StoredFile struct {
	OriginalName string    `json:"original_name"`
	StoredPath   string    `json:"stored_path"`
	Size         int64     `json:"size"`
	StoredAt     time.Time `json:"stored_at"`
}

// DocumentService writes uploaded PDFs and audio chunks under the upload dir
// using generated names, so client file names never reach the filesystem.
type DocumentService struct {
	uploadDir string
}

func NewDocumentService(uploadDir string) *DocumentService {
	return &DocumentService{uploadDir: uploadDir}
}

// Save copies src into sub (a directory below the upload dir) and returns
// where it landed.
func (s *DocumentService) Save(sub, original string, src io.Reader) (*StoredFile, error) {
	dir := filepath.Join(s.uploadDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(SafeFilename(original)))
	storedPath := filepath.Join(dir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	return &StoredFile{
		OriginalName: original,
		StoredPath:   storedPath,
		Size:         n,
		StoredAt:     time.Now().UTC(),
	}, nil
}

// Remove deletes stored files, ignoring ones that are already gone.
func (s *DocumentService) Remove(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("remove %s: %v", p, err)
		}
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SafeFilename reduces a client-supplied name to a plain base name.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
