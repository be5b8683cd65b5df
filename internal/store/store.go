// Package store provides a versioned object-store adapter. The sync engine
// talks to the ObjectStore interface; the production implementation is an S3
// client, tests substitute an in-memory fake.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when the referenced object or version does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrPreconditionFailed is returned when a conditional write loses the race.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// ObjectInfo describes one object version.
type ObjectInfo struct {
	Key          string
	VersionID    string
	ETag         string
	Size         int64
	LastModified time.Time
}

// PutConditions carries optional preconditions for a write. Zero value means
// an unconditional put.
type PutConditions struct {
	// IfMatch makes the put succeed only if the current object ETag matches.
	IfMatch string
	// IfNoneMatchAny makes the put succeed only if no object exists at the key.
	IfNoneMatchAny bool
}

// ObjectStore is the object-store surface the sync engine needs. Buckets must
// have versioning enabled: Put responses expose the new version id.
type ObjectStore interface {
	// Put uploads the file at path to bucket/key.
	Put(ctx context.Context, bucket, key, path string) (*ObjectInfo, error)
	// PutStream uploads size bytes from body to bucket/key, honoring cond.
	PutStream(ctx context.Context, bucket, key string, body io.Reader, size int64, cond *PutConditions) (*ObjectInfo, error)
	// Get downloads bucket/key (at version, when non-empty) to the file at path.
	Get(ctx context.Context, bucket, key, path, version string) error
	// GetStream streams bucket/key (at version, when non-empty) into w.
	GetStream(ctx context.Context, bucket, key, version string, w io.Writer) error
	// Head returns metadata of the latest version of bucket/key.
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	// ListLatestVersions returns the latest version of every key under prefix.
	ListLatestVersions(ctx context.Context, bucket, prefix string) ([]*ObjectInfo, error)
	// Delete removes bucket/key (all versions on unversioned stores, a delete
	// marker on versioned ones).
	Delete(ctx context.Context, bucket, key string) error
}
