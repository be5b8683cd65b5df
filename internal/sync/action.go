package sync

import "fmt"

// ActionType tags the sync action decided for one file key.
type ActionType string

const (
	ActionNop           ActionType = "nop"
	ActionUpload        ActionType = "upload"
	ActionDownload      ActionType = "download"
	ActionDeleteLocal   ActionType = "delete_local"
	ActionDeleteRemote  ActionType = "delete_remote"
	ActionSaveHistory   ActionType = "save_history"
	ActionDeleteHistory ActionType = "delete_history"
	ActionConflict      ActionType = "conflict"
)

// Action is a tagged variant carrying only the inputs its executor needs.
// Reconciliation produces Actions; the executor dispatches on Type.
type Action struct {
	Type   ActionType
	Remote *RemoteNodeHistory
	Local  *LocalNode
	Stored *StoredNodeHistory
}

func Nop() Action {
	return Action{Type: ActionNop}
}

func Upload(remote *RemoteNodeHistory, local *LocalNode) Action {
	return Action{Type: ActionUpload, Remote: remote, Local: local}
}

func Download(remote *RemoteNodeHistory, stored *StoredNodeHistory) Action {
	return Action{Type: ActionDownload, Remote: remote, Stored: stored}
}

func DeleteLocal(local *LocalNode, stored *StoredNodeHistory) Action {
	return Action{Type: ActionDeleteLocal, Local: local, Stored: stored}
}

func DeleteRemote(remote *RemoteNodeHistory, stored *StoredNodeHistory) Action {
	return Action{Type: ActionDeleteRemote, Remote: remote, Stored: stored}
}

func SaveHistory(remote *RemoteNodeHistory, local *LocalNode) Action {
	return Action{Type: ActionSaveHistory, Remote: remote, Local: local}
}

func DeleteHistory(stored *StoredNodeHistory) Action {
	return Action{Type: ActionDeleteHistory, Stored: stored}
}

func Conflict(remote *RemoteNodeHistory, local *LocalNode, stored *StoredNodeHistory) Action {
	return Action{Type: ActionConflict, Remote: remote, Local: local, Stored: stored}
}

// FileKey returns the file key the action concerns, or "" for a nop.
func (a Action) FileKey() string {
	switch {
	case a.Remote != nil:
		return a.Remote.Key
	case a.Local != nil:
		return a.Local.Key
	case a.Stored != nil:
		return a.Stored.Key
	}
	return ""
}

func (a Action) String() string {
	if key := a.FileKey(); key != "" {
		return fmt.Sprintf("%s(%s)", a.Type, key)
	}
	return string(a.Type)
}
