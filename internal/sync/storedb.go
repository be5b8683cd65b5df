package sync

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS root_folder (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS stored_node_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    root_folder_id INTEGER NOT NULL REFERENCES root_folder(id) ON DELETE CASCADE,
    data TEXT NOT NULL,
    local_modified_time INTEGER NOT NULL,
    local_created_time INTEGER NOT NULL,
    remote_history_etag TEXT NOT NULL,
    UNIQUE(root_folder_id, key)
);

CREATE INDEX IF NOT EXISTS idx_stored_node_history_key ON stored_node_history(key);
`

// StoredNodeHistory is this client's record of the last-synced state of one
// file: the history document as of the last sync, the local timestamps
// observed then, and the remote history object's ETag.
type StoredNodeHistory struct {
	ID                int64  `db:"id"`
	Key               string `db:"key"`
	RootFolderID      int64  `db:"root_folder_id"`
	LocalModifiedTime int64  `db:"local_modified_time"`
	LocalCreatedTime  int64  `db:"local_created_time"`
	RemoteHistoryETag string `db:"remote_history_etag"`

	History *NodeHistory `db:"-"`
}

// dbStoredHistory is the scan target; the history document is stored as JSON text.
type dbStoredHistory struct {
	ID                int64  `db:"id"`
	Key               string `db:"key"`
	RootFolderID      int64  `db:"root_folder_id"`
	Data              string `db:"data"`
	LocalModifiedTime int64  `db:"local_modified_time"`
	LocalCreatedTime  int64  `db:"local_created_time"`
	RemoteHistoryETag string `db:"remote_history_etag"`
}

func (r *dbStoredHistory) decode() (*StoredNodeHistory, error) {
	var history NodeHistory
	if err := json.Unmarshal([]byte(r.Data), &history); err != nil {
		return nil, fmt.Errorf("decode stored history %s: %w", r.Key, err)
	}
	return &StoredNodeHistory{
		ID:                r.ID,
		Key:               r.Key,
		RootFolderID:      r.RootFolderID,
		LocalModifiedTime: r.LocalModifiedTime,
		LocalCreatedTime:  r.LocalCreatedTime,
		RemoteHistoryETag: r.RemoteHistoryETag,
		History:           &history,
	}, nil
}

// HistoryStore persists StoredNodeHistory rows keyed by (root folder, file key).
type HistoryStore struct {
	db *sqlx.DB
}

// NewHistoryStore initializes the schema on the given database.
func NewHistoryStore(db *sqlx.DB) (*HistoryStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// RootFolder returns the id of the root_folder row for path, creating it if
// needed.
func (s *HistoryStore) RootFolder(path string) (int64, error) {
	var id int64
	err := s.db.Get(&id, "SELECT id FROM root_folder WHERE path = ?", path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query root folder %s: %w", path, err)
	}

	res, err := s.db.Exec("INSERT INTO root_folder (path) VALUES (?)", path)
	if err != nil {
		return 0, fmt.Errorf("create root folder %s: %w", path, err)
	}
	return res.LastInsertId()
}

// Get retrieves the row for (rootID, key), or nil when absent.
func (s *HistoryStore) Get(rootID int64, key string) (*StoredNodeHistory, error) {
	var row dbStoredHistory
	err := s.db.Get(&row,
		"SELECT * FROM stored_node_history WHERE root_folder_id = ? AND key = ?",
		rootID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query stored history %s: %w", key, err)
	}
	return row.decode()
}

// Upsert inserts or updates the row for (row.RootFolderID, row.Key).
func (s *HistoryStore) Upsert(row *StoredNodeHistory) error {
	if row.History == nil {
		return fmt.Errorf("cannot store history row %s without a history document", row.Key)
	}
	data, err := json.Marshal(row.History)
	if err != nil {
		return fmt.Errorf("encode stored history %s: %w", row.Key, err)
	}

	query := `INSERT INTO stored_node_history
	    (key, root_folder_id, data, local_modified_time, local_created_time, remote_history_etag)
	    VALUES (:key, :root_folder_id, :data, :local_modified_time, :local_created_time, :remote_history_etag)
	    ON CONFLICT(root_folder_id, key) DO UPDATE SET
	        data = excluded.data,
	        local_modified_time = excluded.local_modified_time,
	        local_created_time = excluded.local_created_time,
	        remote_history_etag = excluded.remote_history_etag`
	_, err = s.db.NamedExec(query, &dbStoredHistory{
		Key:               row.Key,
		RootFolderID:      row.RootFolderID,
		Data:              string(data),
		LocalModifiedTime: row.LocalModifiedTime,
		LocalCreatedTime:  row.LocalCreatedTime,
		RemoteHistoryETag: row.RemoteHistoryETag,
	})
	if err != nil {
		return fmt.Errorf("upsert stored history %s: %w", row.Key, err)
	}
	slog.Debug("stored history upsert", "key", row.Key, "remoteEtag", row.RemoteHistoryETag)
	return nil
}

// Delete removes the row for (rootID, key).
func (s *HistoryStore) Delete(rootID int64, key string) error {
	_, err := s.db.Exec(
		"DELETE FROM stored_node_history WHERE root_folder_id = ? AND key = ?",
		rootID, key)
	if err != nil {
		return fmt.Errorf("delete stored history %s: %w", key, err)
	}
	return nil
}

// ListByRoot returns every row of a root, ordered by key.
func (s *HistoryStore) ListByRoot(rootID int64) ([]*StoredNodeHistory, error) {
	var dbRows []dbStoredHistory
	err := s.db.Select(&dbRows,
		"SELECT * FROM stored_node_history WHERE root_folder_id = ? ORDER BY key",
		rootID)
	if err != nil {
		return nil, fmt.Errorf("list stored history: %w", err)
	}

	rows := make([]*StoredNodeHistory, 0, len(dbRows))
	for i := range dbRows {
		row, err := dbRows[i].decode()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DeleteByRoot drops every row of a root.
func (s *HistoryStore) DeleteByRoot(rootID int64) error {
	_, err := s.db.Exec("DELETE FROM stored_node_history WHERE root_folder_id = ?", rootID)
	if err != nil {
		return fmt.Errorf("clear stored history: %w", err)
	}
	return nil
}
