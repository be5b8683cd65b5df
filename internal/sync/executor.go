package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/YAtOff/s3rsync/internal/rsync"
	"github.com/YAtOff/s3rsync/internal/utils"
	"github.com/dustin/go-humanize"
)

// Executor performs the side effects of sync actions. Each action runs all of
// its steps in order; a failure aborts the action and leaves partial state to
// be repaired by the next sync pass.
type Executor struct {
	session    *Session
	onConflict func(Action)
}

func NewExecutor(s *Session) *Executor {
	return &Executor{session: s}
}

// OnConflict registers a callback invoked for every conflict action, in
// addition to the structured log record.
func (e *Executor) OnConflict(fn func(Action)) {
	e.onConflict = fn
}

// Do dispatches and runs one action.
func (e *Executor) Do(ctx context.Context, a Action) error {
	slog.Debug("executing action", "action", a.String())
	switch a.Type {
	case ActionNop:
		return nil
	case ActionUpload:
		return e.upload(ctx, a.Remote, a.Local)
	case ActionDownload:
		return e.download(ctx, a.Remote, a.Stored)
	case ActionDeleteLocal:
		return e.deleteLocal(a.Local, a.Stored)
	case ActionDeleteRemote:
		return e.deleteRemote(ctx, a.Remote, a.Stored)
	case ActionSaveHistory:
		return e.saveHistory(ctx, a.Remote, a.Local)
	case ActionDeleteHistory:
		return e.deleteHistory(a.Stored)
	case ActionConflict:
		e.conflict(a)
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// upload pushes the local file's new version. With no remote history the full
// content goes to the storage bucket and a fresh chain starts with a base
// entry; with an existing history only an rsync delta against the previous
// signature is shipped and a delta entry is appended.
func (e *Executor) upload(ctx context.Context, remote *RemoteNodeHistory, local *LocalNode) error {
	s := e.session
	newKey := NewEntryKey()

	etag, err := local.ETag()
	if err != nil {
		return err
	}

	if remote != nil {
		last, err := remote.History.Last()
		if err != nil {
			return fmt.Errorf("upload %s: %w", local.Path, err)
		}

		prevSig := s.SignaturePath(last.Key)
		if !utils.FileExists(prevSig) {
			if err := downloadMetadata(ctx, s, last.Key, metaSignature, prevSig); err != nil {
				return err
			}
		}

		deltaPath, err := utils.TempFile("s3rsync-delta-*")
		if err != nil {
			return fmt.Errorf("upload %s: %w", local.Path, err)
		}
		defer os.Remove(deltaPath)

		if err := rsync.Delta(prevSig, local.AbsPath(), deltaPath); err != nil {
			return fmt.Errorf("upload %s: %w", local.Path, err)
		}
		deltaSize, err := uploadMetadata(ctx, s, deltaPath, newKey, metaDelta)
		if err != nil {
			return err
		}

		newSig := s.SignaturePath(newKey)
		if err := rsync.Signature(local.AbsPath(), newSig); err != nil {
			return fmt.Errorf("upload %s: %w", local.Path, err)
		}
		if _, err := uploadMetadata(ctx, s, newSig, newKey, metaSignature); err != nil {
			return err
		}

		remote.History.AddEntry(NewDeltaEntry(newKey, etag, deltaSize))

		// the previous version's signature is superseded; if a later step
		// fails it can still be refetched from remote metadata
		if err := os.Remove(prevSig); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not drop cached signature", "key", last.Key, "error", err)
		}
		slog.Info("uploaded delta", "path", local.Path,
			"delta", humanize.Bytes(uint64(deltaSize)), "file", humanize.Bytes(uint64(local.Size)))
	} else {
		newSig := s.SignaturePath(newKey)
		if err := rsync.Signature(local.AbsPath(), newSig); err != nil {
			return fmt.Errorf("upload %s: %w", local.Path, err)
		}
		if _, err := uploadMetadata(ctx, s, newSig, newKey, metaSignature); err != nil {
			return err
		}

		versionID, err := uploadToRoot(ctx, s, local)
		if err != nil {
			return err
		}

		history := NewNodeHistory(local.Path)
		history.AddEntry(NewBaseEntry(newKey, etag, versionID, local.Size))
		remote = NewRemoteHistory(history)
		slog.Info("uploaded base", "path", local.Path, "size", humanize.Bytes(uint64(local.Size)))
	}

	if err := remote.Save(ctx, s); err != nil {
		return err
	}
	return e.upsertStored(remote, local.ModifiedTime, local.CreatedTime)
}

// download materializes the remote's latest version locally: a fresh base plus
// replayed deltas, or deltas alone on top of the file already in place.
func (e *Executor) download(ctx context.Context, remote *RemoteNodeHistory, stored *StoredNodeHistory) error {
	s := e.session

	var storedHistory *NodeHistory
	if stored != nil {
		storedHistory = stored.History
	}
	entries, isAbsolute, err := remote.History.Diff(storedHistory)
	if err != nil {
		return fmt.Errorf("download %s: %w", remote.History.Path, err)
	}

	relPath := remote.History.Path
	localPath := filepath.Join(s.Root, filepath.FromSlash(relPath))

	if isAbsolute {
		if err := os.RemoveAll(localPath); err != nil {
			return fmt.Errorf("download %s: %w", relPath, err)
		}
		if _, err := downloadToRoot(ctx, s, relPath, entries[0].BaseVersion); err != nil {
			return err
		}
		slog.Info("downloaded base", "path", relPath,
			"size", humanize.Bytes(uint64(entries[0].BaseSize)))
		entries = entries[1:]
	}

	for _, entry := range entries {
		deltaPath, err := utils.TempFile("s3rsync-delta-*")
		if err != nil {
			return fmt.Errorf("download %s: %w", relPath, err)
		}
		if err := downloadMetadata(ctx, s, entry.Key, metaDelta, deltaPath); err != nil {
			os.Remove(deltaPath)
			return err
		}

		patched, err := utils.TempFile("s3rsync-patch-*")
		if err != nil {
			os.Remove(deltaPath)
			return fmt.Errorf("download %s: %w", relPath, err)
		}
		err = rsync.Patch(localPath, deltaPath, patched)
		os.Remove(deltaPath)
		if err != nil {
			os.Remove(patched)
			return fmt.Errorf("download %s: %w", relPath, err)
		}
		if err := utils.MoveFile(patched, localPath); err != nil {
			return fmt.Errorf("download %s: %w", relPath, err)
		}
		slog.Info("applied delta", "path", relPath,
			"delta", humanize.Bytes(uint64(entry.DeltaSize)))
	}

	last, err := remote.History.Last()
	if err != nil {
		return fmt.Errorf("download %s: %w", relPath, err)
	}
	sigPath := s.SignaturePath(last.Key)
	if !utils.FileExists(sigPath) {
		if err := downloadMetadata(ctx, s, last.Key, metaSignature, sigPath); err != nil {
			return err
		}
	}

	node, err := NewLocalNode(s.Root, localPath)
	if err != nil {
		return fmt.Errorf("download %s: %w", relPath, err)
	}
	return e.upsertStored(remote, node.ModifiedTime, node.CreatedTime)
}

// deleteLocal removes the file after a remote delete. stored may be nil when
// the delete was observed before any local sync state existed.
func (e *Executor) deleteLocal(local *LocalNode, stored *StoredNodeHistory) error {
	if err := os.Remove(local.AbsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete local %s: %w", local.Path, err)
	}
	slog.Info("deleted local file", "path", local.Path)

	if stored == nil {
		return nil
	}
	e.dropCachedSignature(stored)
	if err := e.session.History.Delete(e.session.RootID, stored.Key); err != nil {
		return err
	}
	return nil
}

// deleteRemote propagates a local delete: drop the content blob, append a
// tombstone to the history, and forget the file locally.
func (e *Executor) deleteRemote(ctx context.Context, remote *RemoteNodeHistory, stored *StoredNodeHistory) error {
	s := e.session

	if err := s.Store.Delete(ctx, s.StorageBucket, s.ContentKey(remote.History.Path)); err != nil {
		return fmt.Errorf("delete remote %s: %w", remote.History.Path, err)
	}

	remote.History.AddDeleteMarker()
	if err := remote.Save(ctx, s); err != nil {
		return err
	}
	slog.Info("deleted remote file", "path", remote.History.Path)

	e.dropCachedSignature(stored)
	return s.History.Delete(s.RootID, stored.Key)
}

// saveHistory adopts a remote history for a local file whose content already
// matches, recording the current local timestamps.
func (e *Executor) saveHistory(ctx context.Context, remote *RemoteNodeHistory, local *LocalNode) error {
	_ = ctx
	slog.Info("adopted remote history", "path", local.Path)
	return e.upsertStored(remote, local.ModifiedTime, local.CreatedTime)
}

func (e *Executor) deleteHistory(stored *StoredNodeHistory) error {
	slog.Info("dropped stored history", "key", stored.Key)
	return e.session.History.Delete(e.session.RootID, stored.Key)
}

// conflict records the divergence without touching storage.
func (e *Executor) conflict(a Action) {
	path := ""
	if a.Local != nil {
		path = a.Local.Path
	} else if a.Remote != nil && a.Remote.History != nil {
		path = a.Remote.History.Path
	}
	slog.Warn("sync conflict", "key", a.FileKey(), "path", path)
	if e.onConflict != nil {
		e.onConflict(a)
	}
}

func (e *Executor) upsertStored(remote *RemoteNodeHistory, modifiedTime, createdTime int64) error {
	return e.session.History.Upsert(&StoredNodeHistory{
		Key:               remote.Key,
		RootFolderID:      e.session.RootID,
		LocalModifiedTime: modifiedTime,
		LocalCreatedTime:  createdTime,
		RemoteHistoryETag: remote.ETag,
		History:           remote.History.Clone(),
	})
}

func (e *Executor) dropCachedSignature(stored *StoredNodeHistory) {
	last, err := stored.History.Last()
	if err != nil {
		return
	}
	if err := os.Remove(e.session.SignaturePath(last.Key)); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not drop cached signature", "key", last.Key, "error", err)
	}
}
