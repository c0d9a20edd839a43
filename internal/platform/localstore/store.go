package localstore

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
)

// AddressScheme prefixes every address handed out by the fallback store.
const AddressScheme = "file://"

var ErrNotLocalAddress = errors.New("not a file:// address")

// Store is the emergency write path used when the durable object store is
// unreachable. It mirrors the object key layout under a local root so an
// operator can later copy the tree back into the bucket verbatim.
type Store interface {
	WriteKey(key string, body []byte) (string, error)
	Read(address string) ([]byte, error)
	Root() string
}

type store struct {
	log  *logger.Logger
	root string
}

func New(log *logger.Logger, root string) (Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local fallback root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local fallback root %q: %w", root, err)
	}
	return &store{log: log.With("service", "LocalFallbackStore"), root: abs}, nil
}

func (s *store) Root() string { return s.root }

// WriteKey writes body under root/key. Intermediate directories are created as
// needed and the payload lands via temp file + rename, so readers never see a
// partial artifact.
func (s *store) WriteKey(key string, body []byte) (string, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create fallback dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create fallback temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write fallback temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("sync fallback temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close fallback temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename fallback file into %q: %w", path, err)
	}

	s.log.Warn("Artifact written to local fallback store", "path", path, "bytes", len(body))
	return AddressForPath(path), nil
}

func (s *store) Read(address string) ([]byte, error) {
	path, err := PathFromAddress(address)
	if err != nil {
		return nil, err
	}
	if !withinRoot(s.root, path) {
		return nil, fmt.Errorf("read %q: outside fallback root", address)
	}
	return os.ReadFile(path)
}

func (s *store) pathFor(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("fallback write: empty key")
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !withinRoot(s.root, path) {
		return "", fmt.Errorf("fallback write: key %q escapes root", key)
	}
	return path, nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func AddressForPath(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

func PathFromAddress(address string) (string, error) {
	if !strings.HasPrefix(address, AddressScheme) {
		return "", ErrNotLocalAddress
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", address, err)
	}
	return filepath.FromSlash(u.Path), nil
}
