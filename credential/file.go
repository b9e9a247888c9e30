package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	iam "github.com/chimerakang/jobboard-iam"
)

// File keeps the token in a small JSON key/value document on disk, so it
// survives restarts the way browser local storage survives reloads.
// Other keys in the document are preserved.
type File struct {
	path   string
	key    string
	logger *slog.Logger

	mu sync.Mutex
}

var _ iam.CredentialStore = (*File)(nil)

// NewFile builds a file-backed store. When no path is configured the document
// lives in the user config directory.
func NewFile(cfg Config) (*File, error) {
	path := ""
	if cfg.File != nil {
		path = cfg.File.Path
	}
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("iam/credential: resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "jobboard", "credentials.json")
	}
	return &File{path: path, key: cfg.key(), logger: cfg.logger()}, nil
}

// Path returns the location of the backing document.
func (f *File) Path() string { return f.path }

func (f *File) Save(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		// a corrupt document is replaced rather than blocking login
		f.logger.Warn("credential file unreadable, overwriting", "path", f.path, "error", err)
		doc = map[string]string{}
	}
	doc[f.key] = token
	return f.write(doc)
}

func (f *File) Load(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		f.logger.Warn("credential file unreadable", "path", f.path, "error", err)
		return "", false
	}
	token, ok := doc[f.key]
	return token, ok
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		// nothing trustworthy to keep
		if rmErr := os.Remove(f.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("iam/credential: remove %s: %w", f.path, rmErr)
		}
		return nil
	}
	if _, ok := doc[f.key]; !ok {
		return nil
	}
	delete(doc, f.key)
	return f.write(doc)
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]string{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// write replaces the document atomically via a temp file in the same directory.
func (f *File) write(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("iam/credential: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("iam/credential: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("iam/credential: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("iam/credential: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("iam/credential: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("iam/credential: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("iam/credential: rename: %w", err)
	}
	return nil
}
