package sync

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/YAtOff/s3rsync/internal/config"
	"github.com/YAtOff/s3rsync/internal/store"
	"github.com/YAtOff/s3rsync/internal/utils"
	"github.com/jmoiron/sqlx"
)

// Session is the process-wide configuration bundle shared by the worker and
// the action executor: bucket names, key prefixes, the resolved root folder,
// the signature cache directory, and the two storage backends.
type Session struct {
	StorageBucket  string
	InternalBucket string
	Prefix         string
	MetadataPrefix string
	Root           string
	RootID         int64
	SignatureDir   string
	Interval       time.Duration

	Store   store.ObjectStore
	History *HistoryStore
}

// NewSession resolves the root folder, registers it in the local store and
// prepares the signature cache directory.
func NewSession(cfg *config.Config, prefix, rootPath string, objStore store.ObjectStore, db *sqlx.DB) (*Session, error) {
	root, err := utils.ResolvePath(rootPath)
	if err != nil {
		return nil, fmt.Errorf("session: root folder: %w", err)
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("session: root folder %s is not a directory", root)
	}

	historyStore, err := NewHistoryStore(db)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	rootID, err := historyStore.RootFolder(root)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if err := utils.EnsureDir(cfg.SignatureFolder); err != nil {
		return nil, fmt.Errorf("session: signature folder: %w", err)
	}

	return &Session{
		StorageBucket:  cfg.StorageBucket,
		InternalBucket: cfg.InternalBucket,
		Prefix:         prefix,
		MetadataPrefix: cfg.SyncMetadataPrefix,
		Root:           root,
		RootID:         rootID,
		SignatureDir:   cfg.SignatureFolder,
		Interval:       cfg.SyncInterval,
		Store:          objStore,
		History:        historyStore,
	}, nil
}

// ContentKey is the storage-bucket key of a file's content blobs.
func (s *Session) ContentKey(relPath string) string {
	return path.Join(s.Prefix, relPath)
}

// HistoryKey is the internal-bucket key of a file's history document.
func (s *Session) HistoryKey(fileKey string) string {
	return path.Join(s.Prefix, s.MetadataPrefix, "history", fileKey)
}

// HistoryPrefix is the internal-bucket prefix under which all history
// documents of this session live.
func (s *Session) HistoryPrefix() string {
	return path.Join(s.Prefix, s.MetadataPrefix, "history")
}

// EntryKey is the internal-bucket key of an entry blob; name is "delta" or
// "signature".
func (s *Session) EntryKey(entryKey, name string) string {
	return path.Join(s.Prefix, s.MetadataPrefix, "entries", entryKey, name)
}

// SignaturePath is the local cache path of the signature blob for an entry.
func (s *Session) SignaturePath(entryKey string) string {
	return filepath.Join(s.SignatureDir, entryKey)
}
