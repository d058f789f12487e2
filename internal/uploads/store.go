package uploads

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/orrn/printdesk/internal/config"
)

var (
	ErrUnsupportedType = errors.New("only PDF files are accepted")
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrInvalidRef      = errors.New("invalid file reference")
)

const pdfMIME = "application/pdf"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store keeps uploaded PDFs in a single directory until their job finishes.
type Store struct {
	dir       string
	maxBytes  int64
	urlPrefix string
	now       func() time.Time
}

func NewStore(cfg config.UploadsConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	prefix := "/" + strings.Trim(cfg.URLPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return &Store{dir: cfg.Dir, maxBytes: cfg.MaxBytes, urlPrefix: prefix, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save stores the content of r under a new file reference. The content must
// sniff as a PDF.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	limited := r
	if s.maxBytes > 0 {
		limited = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	if !mimetype.Detect(data).Is(pdfMIME) {
		return "", ErrUnsupportedType
	}

	base := sanitizeName(name)
	millis := s.now().UnixMilli()
	for i := 0; i < 100; i++ {
		ref := fmt.Sprintf("%d-%s", millis+int64(i), base)
		f, err := os.OpenFile(filepath.Join(s.dir, ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create upload: %w", err)
		}
		if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write upload: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close upload: %w", err)
		}
		return ref, nil
	}
	return "", fmt.Errorf("create upload: no free name for %s", base)
}

// Path resolves ref to a file inside the upload directory.
func (s *Store) Path(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

func (s *Store) Exists(ref string) bool {
	path, err := s.Path(ref)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes ref. A file that is already gone is not an error.
func (s *Store) Delete(ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete upload %s: %w", ref, err)
	}
	return nil
}

// URLFor is the address a printer fetches ref from.
func (s *Store) URLFor(ref, origin string) string {
	return strings.TrimRight(origin, "/") + s.urlPrefix + "/" + ref
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if name == "" {
		name = "document.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
