package media

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"estimate-service/internal/storage"
)

// Common errors
var (
	ErrMimeNotAllowed = errors.New("mime-not-allowed")
	ErrFileTooLarge   = errors.New("file-too-large")
)

const maxNameLength = 100

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Store saves uploaded media files into a directory served under /uploads
type Store struct {
	dir           string
	urlPrefix     string
	maxBytes      int64
	allowedPrefix []string
	now           func() time.Time
}

// NewStore creates a media store rooted at dir
func NewStore(dir string, maxBytes int64, allowedPrefix []string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}

	return &Store{
		dir:           dir,
		urlPrefix:     "/uploads",
		maxBytes:      maxBytes,
		allowedPrefix: allowedPrefix,
		now:           time.Now,
	}, nil
}

// Dir returns the directory media files are written to
func (s *Store) Dir() string {
	return s.dir
}

// Allowed reports whether a MIME type passes the prefix allow-list
func (s *Store) Allowed(mimetype string) bool {
	for _, prefix := range s.allowedPrefix {
		if strings.HasPrefix(mimetype, prefix) {
			return true
		}
	}
	return false
}

// Save validates and writes an uploaded file, returning its metadata
func (s *Store) Save(file multipart.File, header *multipart.FileHeader) (*storage.Media, error) {
	mimetype := header.Header.Get("Content-Type")
	if !s.Allowed(mimetype) {
		return nil, ErrMimeNotAllowed
	}

	if s.maxBytes > 0 && header.Size > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	filename := strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + SanitizeFilename(header.Filename)

	out, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create media file: %w", err)
	}

	var src io.Reader = file
	if s.maxBytes > 0 {
		src = io.LimitReader(file, s.maxBytes+1)
	}

	written, err := io.Copy(out, src)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.maxBytes > 0 && written > s.maxBytes {
		err = ErrFileTooLarge
	}
	if err != nil {
		os.Remove(filepath.Join(s.dir, filename))
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to write media file: %w", err)
	}

	return &storage.Media{
		Filename: filename,
		Mimetype: mimetype,
		Size:     written,
		URL:      path.Join(s.urlPrefix, filename),
	}, nil
}

// Remove deletes a previously saved file. A file that is already gone is not an error.
func (s *Store) Remove(m *storage.Media) error {
	if m == nil {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filepath.Base(m.Filename)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove media file: %w", err)
	}
	return nil
}

// SanitizeFilename replaces unsafe characters and keeps the last 100 characters
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		name = "file"
	}

	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > maxNameLength {
		name = name[len(name)-maxNameLength:]
	}
	return name
}
