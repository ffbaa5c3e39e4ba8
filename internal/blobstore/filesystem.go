package blobstore

import (
	"context"
	"os"
	"path/filepath"
)

// FilesystemBlobstore is the local-disk Blobstore for single-node/dev
// deployments, realizing spec §6's "{attachments_root}/{guid}.{ext}"
// layout literally as files on disk. The reference storage service only
// ever targets S3/MinIO; this implementation is our addition so a
// deployment without object storage still has a working attachment path.
type FilesystemBlobstore struct {
	root string
}

func NewFilesystemBlobstore(root string) (*FilesystemBlobstore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemBlobstore{root: root}, nil
}

func (f *FilesystemBlobstore) path(key string) string {
	return filepath.Join(f.root, filepath.Base(key))
}

func (f *FilesystemBlobstore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return os.WriteFile(f.path(key), data, 0o644)
}

func (f *FilesystemBlobstore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FilesystemBlobstore) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
