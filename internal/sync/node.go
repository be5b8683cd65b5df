package sync

import (
	"crypto/md5"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/YAtOff/s3rsync/internal/utils"
)

// HashPath returns the stable file key for a root-relative POSIX path: the
// lowercase hex MD5 of the path bytes. Identical paths across clients yield
// identical keys.
func HashPath(path string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(path)))
}

// LocalNode is a snapshot of one local file at scan time.
type LocalNode struct {
	Root         string
	Path         string // root-relative, forward slashes
	Key          string
	ModifiedTime int64 // unix seconds
	CreatedTime  int64 // unix seconds
	Size         int64

	etag string // lazily computed content checksum
}

// NewLocalNode stats the file at absPath under root and fills the snapshot.
func NewLocalNode(root, absPath string) (*LocalNode, error) {
	relPath, err := filepath.Rel(root, absPath)
	if err != nil {
		return nil, fmt.Errorf("local node %s: %w", absPath, err)
	}
	relPath = filepath.ToSlash(relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("local node %s: %w", absPath, err)
	}

	return &LocalNode{
		Root:         root,
		Path:         relPath,
		Key:          HashPath(relPath),
		ModifiedTime: info.ModTime().Unix(),
		CreatedTime:  createdTime(info),
		Size:         info.Size(),
	}, nil
}

// AbsPath returns the absolute filesystem path of the node.
func (n *LocalNode) AbsPath() string {
	return filepath.Join(n.Root, filepath.FromSlash(n.Path))
}

// ETag computes and caches the MD5 content checksum of the file.
func (n *LocalNode) ETag() (string, error) {
	if n.etag != "" {
		return n.etag, nil
	}
	etag, err := utils.FileHash(n.AbsPath())
	if err != nil {
		return "", fmt.Errorf("local node %s: etag: %w", n.Path, err)
	}
	n.etag = etag
	return etag, nil
}

// Updated reports whether the file changed since the stored row was written:
// either timestamp differing counts as a change.
func (n *LocalNode) Updated(stored *StoredNodeHistory) bool {
	return n.ModifiedTime != stored.LocalModifiedTime ||
		n.CreatedTime != stored.LocalCreatedTime
}

// ScanRoot walks the root folder recursively and returns a node per regular
// file. Unreadable files are skipped with a warning.
func ScanRoot(root string) ([]*LocalNode, error) {
	var nodes []*LocalNode

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}
		if d.IsDir() {
			return nil
		}

		node, err := NewLocalNode(root, path)
		if err != nil {
			slog.Warn("scan skipping file", "path", path, "error", err)
			return nil
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan failed: %w", err)
	}

	return nodes, nil
}
