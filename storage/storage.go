// Package storage defines the binary blob gateway the pipeline stores
// artifacts through: original PDFs, QR images, and augmented PDFs.
//
// Contract:
//   - Store MUST be idempotent for identical bytes under the same key.
//   - Retrieve MUST return ErrNotFound when the key is absent.
//   - Keys are relative paths of the form {folder}/{tenant}/{batch}/{id}{ext}.
package storage

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Default layout values per the storage contract.
const (
	DefaultFolder    = "certificates"
	DefaultExtension = ".pdf"

	FolderQRCodes   = "qr-codes"
	FolderAugmented = "qr-embedded-certificates"
)

// Options select the folder, extension, and content type for a stored object.
type Options struct {
	Folder      string
	Extension   string
	ContentType string
}

// Option mutates Options.
type Option func(*Options)

func WithFolder(folder string) Option  { return func(o *Options) { o.Folder = folder } }
func WithExtension(ext string) Option  { return func(o *Options) { o.Extension = ext } }
func WithContentType(ct string) Option { return func(o *Options) { o.ContentType = ct } }

// Apply folds opts over the defaults.
func Apply(opts []Option) Options {
	o := Options{Folder: DefaultFolder, Extension: DefaultExtension, ContentType: "application/pdf"}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Extension != "" && !strings.HasPrefix(o.Extension, ".") {
		o.Extension = "." + o.Extension
	}
	return o
}

// Store is the blob gateway implemented by the local filesystem and
// S3-compatible drivers.
type Store interface {
	// Store writes data and returns the relative path it is retrievable under.
	Store(data []byte, tenantID, batchID, objectID string, opts ...Option) (string, error)
	// Retrieve reads the bytes stored under a relative path.
	Retrieve(relativePath string) ([]byte, error)
	// PublicURL returns a URL for the object, or "" when none applies.
	PublicURL(relativePath string) string
	// Name identifies the driver ("local", "s3").
	Name() string
}

// Key builds the canonical relative path for an object.
func Key(tenantID, batchID, objectID string, o Options) (string, error) {
	for _, part := range []string{o.Folder, tenantID, batchID, objectID} {
		if part == "" || strings.ContainsAny(part, "/\\") || part == "." || part == ".." {
			return "", ErrInvalidKey
		}
	}
	return path.Join(o.Folder, tenantID, batchID, objectID+o.Extension), nil
}

// ValidateKey rejects traversal and absolute paths on retrieval.
func ValidateKey(relativePath string) error {
	if relativePath == "" || strings.HasPrefix(relativePath, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(relativePath, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
