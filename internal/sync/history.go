package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrHistoryEmpty is returned when an operation needs the latest entry of
	// a history that has none.
	ErrHistoryEmpty = errors.New("history has no entries")
	// ErrHistoryDeleted is returned when the latest entry is a delete marker.
	ErrHistoryDeleted = errors.New("history ends with a delete marker")
)

// NodeHistoryEntry is one link in a file's version chain. Valid shapes:
//
//   - base-only: BaseVersion set, HasDelta false. Materialized by downloading
//     the base blob at that object-store version.
//   - delta-only: HasDelta true, BaseVersion empty. Materialized by patching
//     the previous reachable version.
//   - whole: both representations present (fresh base rebuilt alongside a delta).
//   - deleted: tombstone, no content.
type NodeHistoryEntry struct {
	Key         string
	Deleted     bool
	ETag        string
	BaseVersion string
	BaseSize    int64
	HasDelta    bool
	DeltaSize   int64
}

// nodeHistoryEntryJSON is the wire form of an entry. Absent etag and
// base_version are encoded as explicit nulls, not omitted.
type nodeHistoryEntryJSON struct {
	Key         string  `json:"key"`
	Deleted     bool    `json:"deleted"`
	ETag        *string `json:"etag"`
	BaseVersion *string `json:"base_version"`
	BaseSize    int64   `json:"base_size"`
	HasDelta    bool    `json:"has_delta"`
	DeltaSize   int64   `json:"delta_size"`
}

func (e NodeHistoryEntry) MarshalJSON() ([]byte, error) {
	doc := nodeHistoryEntryJSON{
		Key:       e.Key,
		Deleted:   e.Deleted,
		BaseSize:  e.BaseSize,
		HasDelta:  e.HasDelta,
		DeltaSize: e.DeltaSize,
	}
	if e.ETag != "" {
		doc.ETag = &e.ETag
	}
	if e.BaseVersion != "" {
		doc.BaseVersion = &e.BaseVersion
	}
	return json.Marshal(doc)
}

func (e *NodeHistoryEntry) UnmarshalJSON(data []byte) error {
	var doc nodeHistoryEntryJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*e = NodeHistoryEntry{
		Key:       doc.Key,
		Deleted:   doc.Deleted,
		BaseSize:  doc.BaseSize,
		HasDelta:  doc.HasDelta,
		DeltaSize: doc.DeltaSize,
	}
	if doc.ETag != nil {
		e.ETag = *doc.ETag
	}
	if doc.BaseVersion != nil {
		e.BaseVersion = *doc.BaseVersion
	}
	return nil
}

// NewEntryKey returns a fresh 128-bit identifier as lowercase hex. Entry keys
// double as the object-store names of the entry's delta and signature blobs.
func NewEntryKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewBaseEntry builds a base-only entry pointing at a full content blob.
func NewBaseEntry(key, etag, baseVersion string, baseSize int64) NodeHistoryEntry {
	return NodeHistoryEntry{
		Key:         key,
		ETag:        etag,
		BaseVersion: baseVersion,
		BaseSize:    baseSize,
	}
}

// NewDeltaEntry builds a delta-only entry chained onto the previous version.
func NewDeltaEntry(key, etag string, deltaSize int64) NodeHistoryEntry {
	return NodeHistoryEntry{
		Key:       key,
		ETag:      etag,
		HasDelta:  true,
		DeltaSize: deltaSize,
	}
}

// NodeHistory is the full version chain of one logical file. Entries are
// append-only; a tombstone ends a chain and any entries after it start a new
// one whose first entry must again carry a base.
type NodeHistory struct {
	Path    string             `json:"path"`
	Key     string             `json:"key"`
	Entries []NodeHistoryEntry `json:"entries"`
}

// NewNodeHistory creates an empty history for the given root-relative path.
func NewNodeHistory(path string) *NodeHistory {
	return &NodeHistory{
		Path: path,
		Key:  HashPath(path),
	}
}

// Last returns the final entry. It is an error if the chain is empty or ends
// with a delete marker.
func (h *NodeHistory) Last() (*NodeHistoryEntry, error) {
	if len(h.Entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHistoryEmpty, h.Path)
	}
	last := &h.Entries[len(h.Entries)-1]
	if last.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrHistoryDeleted, h.Path)
	}
	return last, nil
}

// ETag returns the content checksum of the latest version.
func (h *NodeHistory) ETag() (string, error) {
	last, err := h.Last()
	if err != nil {
		return "", err
	}
	return last.ETag, nil
}

// IsDeleted reports whether the chain currently ends with a tombstone.
func (h *NodeHistory) IsDeleted() bool {
	if len(h.Entries) == 0 {
		return false
	}
	return h.Entries[len(h.Entries)-1].Deleted
}

// AddEntry appends an entry to the chain.
func (h *NodeHistory) AddEntry(e NodeHistoryEntry) {
	h.Entries = append(h.Entries, e)
}

// AddDeleteMarker appends a tombstone, ending the current chain.
func (h *NodeHistory) AddDeleteMarker() {
	h.Entries = append(h.Entries, NodeHistoryEntry{
		Key:     NewEntryKey(),
		Deleted: true,
	})
}

// Clone returns a deep copy of the history.
func (h *NodeHistory) Clone() *NodeHistory {
	c := &NodeHistory{
		Path:    h.Path,
		Key:     h.Key,
		Entries: make([]NodeHistoryEntry, len(h.Entries)),
	}
	copy(c.Entries, h.Entries)
	return c
}

// Diff computes the shortest chain of entries that materializes h's latest
// version starting from other's latest version, or from scratch when other is
// nil. isAbsolute reports that the first returned entry must be materialized
// by downloading its base blob rather than patching an existing local file.
//
// The walk goes backwards from the head. Replaying deltas from the stored
// state competes against downloading the most recent base and replaying a
// shorter tail: as soon as the accumulated delta bytes exceed the size of a
// seen base, the base wins and the result is truncated to start there.
func (h *NodeHistory) Diff(other *NodeHistory) (entries []NodeHistoryEntry, isAbsolute bool, err error) {
	if other == nil {
		for i := len(h.Entries) - 1; i >= 0; i-- {
			e := h.Entries[i]
			entries = append(entries, e)
			if e.BaseVersion != "" {
				break
			}
		}
		reverseEntries(entries)
		return entries, true, nil
	}

	stop, err := other.Last()
	if err != nil {
		return nil, false, fmt.Errorf("diff against %s: %w", other.Path, err)
	}

	var deltaSum int64
	baseIdx := -1 // position of the newest base candidate in the result
	var baseSize int64

	for i := len(h.Entries) - 1; i >= 0; i-- {
		e := h.Entries[i]
		if e.Deleted || e.Key == stop.Key {
			break
		}
		if !e.HasDelta {
			// pure base entry: nothing older is reachable by patching
			entries = append(entries, e)
			isAbsolute = true
			break
		}

		deltaSum += e.DeltaSize
		if e.BaseVersion != "" && baseIdx < 0 {
			baseIdx = len(entries)
			baseSize = e.BaseSize
		}
		if baseIdx >= 0 && deltaSum > baseSize {
			// replaying deltas now costs more than fetching the base
			entries = append(entries, e)
			entries = entries[:baseIdx+1]
			isAbsolute = true
			break
		}

		entries = append(entries, e)
	}

	reverseEntries(entries)
	return entries, isAbsolute, nil
}

func reverseEntries(entries []NodeHistoryEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
