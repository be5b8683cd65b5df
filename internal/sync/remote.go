package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/YAtOff/s3rsync/internal/store"
)

// ErrHistoryCorrupt is returned when a fetched history document cannot be
// parsed.
var ErrHistoryCorrupt = errors.New("history document is corrupt")

// RemoteNodeHistory wraps a NodeHistory fetched from the internal bucket. It
// moves through three states: listed (key and object ETag only), loaded
// (History attached), and saved (History written back, ETag refreshed).
type RemoteNodeHistory struct {
	Key  string
	ETag string // object-store ETag of the history blob, not the content etag

	History *NodeHistory

	// remoteExists records that the history object is known to exist
	// remotely; Save uses it to choose its write precondition.
	remoteExists bool
}

// RemoteHistoryFromListing builds an unloaded handle from a list record. The
// file key is the trailing path component, stripped of any suffix.
func RemoteHistoryFromListing(obj *store.ObjectInfo) *RemoteNodeHistory {
	key := path.Base(obj.Key)
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[:i]
	}
	return &RemoteNodeHistory{
		Key:          key,
		ETag:         obj.ETag,
		remoteExists: true,
	}
}

// NewRemoteHistory wraps a freshly built history that does not exist remotely
// yet.
func NewRemoteHistory(history *NodeHistory) *RemoteNodeHistory {
	return &RemoteNodeHistory{
		Key:     history.Key,
		History: history,
	}
}

// Loaded reports whether the history body is attached.
func (r *RemoteNodeHistory) Loaded() bool {
	return r.History != nil
}

// IsDeleted reports whether the loaded history ends with a tombstone.
func (r *RemoteNodeHistory) IsDeleted() bool {
	return r.History != nil && r.History.IsDeleted()
}

// Exists reports whether the loaded history describes a live file.
func (r *RemoteNodeHistory) Exists() bool {
	return r.History != nil && !r.History.IsDeleted()
}

// Updated reports whether the remote history object changed since the stored
// row was written.
func (r *RemoteNodeHistory) Updated(stored *StoredNodeHistory) bool {
	return r.ETag != stored.RemoteHistoryETag
}

// AdoptStored attaches a copy of the stored history as the remote body. Used
// when the remote object's ETag matches the stored row, so the body is known
// without a fetch.
func (r *RemoteNodeHistory) AdoptStored(stored *StoredNodeHistory) {
	r.History = stored.History.Clone()
}

// Load fetches and parses the history document from the internal bucket.
func (r *RemoteNodeHistory) Load(ctx context.Context, s *Session) error {
	var buf bytes.Buffer
	if err := s.Store.GetStream(ctx, s.InternalBucket, s.HistoryKey(r.Key), "", &buf); err != nil {
		return fmt.Errorf("load history %s: %w", r.Key, err)
	}

	var history NodeHistory
	if err := json.Unmarshal(buf.Bytes(), &history); err != nil {
		return fmt.Errorf("parse history %s: %w: %v", r.Key, ErrHistoryCorrupt, err)
	}

	r.History = &history
	r.remoteExists = true
	return nil
}

// Save writes the history document back to the internal bucket and refreshes
// the handle's ETag. The write is conditional: If-Match on the last observed
// ETag for known objects, If-None-Match for fresh ones, so a concurrent
// client's save is never silently overwritten.
func (r *RemoteNodeHistory) Save(ctx context.Context, s *Session) error {
	if r.History == nil {
		return fmt.Errorf("save history %s: not loaded", r.Key)
	}

	data, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", r.Key, err)
	}

	cond := &store.PutConditions{}
	if r.remoteExists && r.ETag != "" {
		cond.IfMatch = r.ETag
	} else {
		cond.IfNoneMatchAny = true
	}

	info, err := s.Store.PutStream(ctx, s.InternalBucket, s.HistoryKey(r.Key),
		bytes.NewReader(data), int64(len(data)), cond)
	if err != nil {
		return fmt.Errorf("save history %s: %w", r.Key, err)
	}

	r.ETag = info.ETag
	r.remoteExists = true
	return nil
}
