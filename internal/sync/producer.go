package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/YAtOff/s3rsync/internal/store"
)

// Producer turns the current state of the root folder, the stored rows and the
// remote history listing into an ordered list of actions.
type Producer struct {
	session *Session
}

func NewProducer(s *Session) *Producer {
	return &Producer{session: s}
}

// nodeTriple is one file key's three views, any of which may be nil.
type nodeTriple struct {
	key    string
	remote *RemoteNodeHistory
	local  *LocalNode
	stored *StoredNodeHistory
}

// Produce lists the remote histories, loads the stored rows, scans the root
// folder, joins the three by file key and decides one action per key. Remote
// history bodies are fetched only when the object's ETag differs from the
// stored row's; otherwise the stored copy is adopted.
func (p *Producer) Produce(ctx context.Context) ([]Action, error) {
	s := p.session

	listing, err := s.Store.ListLatestVersions(ctx, s.InternalBucket, s.HistoryPrefix())
	if err != nil {
		return nil, fmt.Errorf("list remote histories: %w", err)
	}
	remotes := make([]*RemoteNodeHistory, 0, len(listing))
	for _, obj := range listing {
		remotes = append(remotes, RemoteHistoryFromListing(obj))
	}
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].Key < remotes[j].Key })

	storedRows, err := s.History.ListByRoot(s.RootID)
	if err != nil {
		return nil, err
	}

	locals, err := ScanRoot(s.Root)
	if err != nil {
		return nil, err
	}
	sort.Slice(locals, func(i, j int) bool { return locals[i].Key < locals[j].Key })

	triples := joinByKey(remotes, locals, storedRows)

	actions := make([]Action, 0, len(triples))
	for _, t := range triples {
		if t.remote != nil {
			if err := p.loadRemote(ctx, t.remote, t.stored); err != nil {
				if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrHistoryCorrupt) {
					// listed but unreadable: a raced delete or a bad
					// document. Surface it for this key and keep the
					// pass going for everything else.
					slog.Warn("unreadable remote history", "key", t.key, "error", err)
					actions = append(actions, Conflict(t.remote, t.local, t.stored))
					continue
				}
				return nil, err
			}
		}
		action, err := HandleNode(t.remote, t.local, t.stored)
		if err != nil {
			return nil, fmt.Errorf("decide action for %s: %w", t.key, err)
		}
		if action.Type != ActionNop {
			actions = append(actions, action)
		}
	}

	slog.Debug("produced actions", "count", len(actions), "files", len(triples))
	return actions, nil
}

// loadRemote attaches the history body, fetching it only when the remote
// object changed since the stored row was written.
func (p *Producer) loadRemote(ctx context.Context, remote *RemoteNodeHistory, stored *StoredNodeHistory) error {
	if remote.Loaded() {
		return nil
	}
	if stored != nil && !remote.Updated(stored) {
		remote.AdoptStored(stored)
		return nil
	}
	return remote.Load(ctx, p.session)
}

// joinByKey merges the three key-sorted streams into triples, one per distinct
// file key.
func joinByKey(remotes []*RemoteNodeHistory, locals []*LocalNode, stored []*StoredNodeHistory) []nodeTriple {
	var triples []nodeTriple
	r, l, s := 0, 0, 0

	for r < len(remotes) || l < len(locals) || s < len(stored) {
		key := ""
		if r < len(remotes) {
			key = remotes[r].Key
		}
		if l < len(locals) && (key == "" || locals[l].Key < key) {
			key = locals[l].Key
		}
		if s < len(stored) && (key == "" || stored[s].Key < key) {
			key = stored[s].Key
		}

		t := nodeTriple{key: key}
		if r < len(remotes) && remotes[r].Key == key {
			t.remote = remotes[r]
			r++
		}
		if l < len(locals) && locals[l].Key == key {
			t.local = locals[l]
			l++
		}
		if s < len(stored) && stored[s].Key == key {
			t.stored = stored[s]
			s++
		}
		triples = append(triples, t)
	}
	return triples
}
