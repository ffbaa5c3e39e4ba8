// Package blobstore persists Attachment bytes outside the relational
// store, behind a small interface so an S3-compatible backend and a
// local-filesystem backend (for dev/single-node deployments) are
// interchangeable, per spec §6's "{attachments_root}/{guid}.{ext}" layout.
package blobstore

import "context"

// Blobstore stores and retrieves attachment bytes by object key
// ("{guid}.{ext}").
type Blobstore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
