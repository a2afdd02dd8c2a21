// Package localfs is the filesystem driver for the artifact store.
//
// Objects are laid out exactly as their relative keys, rooted at a base
// directory. Writes go through a temp file and rename so readers never
// observe partial PDFs.
package localfs

import (
	"errors"
	"os"
	"path/filepath"

	"justifai.co/issuance/storage"
)

type Store struct {
	root      string
	publicURL string
}

// New constructs a filesystem store rooted at root. The directory is created
// if needed. publicBase, when non-empty, prefixes PublicURL results.
func New(root, publicBase string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, publicURL: publicBase}, nil
}

func (s *Store) Name() string { return "local" }

func (s *Store) Store(data []byte, tenantID, batchID, objectID string, opts ...storage.Option) (string, error) {
	o := storage.Apply(opts)
	key, err := storage.Key(tenantID, batchID, objectID, o)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".justifai-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return key, nil
}

func (s *Store) Retrieve(relativePath string) ([]byte, error) {
	if err := storage.ValidateKey(relativePath); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(relativePath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) PublicURL(relativePath string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/" + relativePath
}
