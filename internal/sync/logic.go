package sync

// HandleNode decides the action for one file key from its three views: the
// remote history (loaded, or nil when no history object exists), the local
// file snapshot (nil when absent), and the stored row from the last sync (nil
// when the file was never synced here).
func HandleNode(remote *RemoteNodeHistory, local *LocalNode, stored *StoredNodeHistory) (Action, error) {
	switch {
	case remote == nil && local == nil && stored == nil:
		return Nop(), nil

	case remote == nil && local == nil:
		// synced once, then deleted both locally and remotely
		return DeleteHistory(stored), nil

	case remote == nil && stored == nil:
		// brand-new local file
		return Upload(nil, local), nil

	case remote == nil:
		// remote history gone entirely: another client purged it
		return DeleteLocal(local, stored), nil

	case local == nil && stored == nil:
		if remote.IsDeleted() {
			return Nop(), nil
		}
		// file exists remotely, never seen here
		return Download(remote, nil), nil

	case local == nil:
		if remote.IsDeleted() {
			return DeleteHistory(stored), nil
		}
		// local file removed since last sync: propagate the delete
		return DeleteRemote(remote, stored), nil

	case stored == nil:
		if remote.IsDeleted() {
			return DeleteLocal(local, nil), nil
		}
		remoteETag, err := remote.History.ETag()
		if err != nil {
			return Nop(), err
		}
		localETag, err := local.ETag()
		if err != nil {
			return Nop(), err
		}
		if remoteETag == localETag {
			// same content on both sides; just remember the pairing
			return SaveHistory(remote, local), nil
		}
		return Conflict(remote, local, nil), nil
	}

	localUpdated := local.Updated(stored)
	remoteUpdated := remote.Updated(stored)

	if remote.IsDeleted() {
		if localUpdated {
			return Conflict(remote, local, stored), nil
		}
		return DeleteLocal(local, stored), nil
	}

	switch {
	case localUpdated && remoteUpdated:
		remoteETag, err := remote.History.ETag()
		if err != nil {
			return Nop(), err
		}
		localETag, err := local.ETag()
		if err != nil {
			return Nop(), err
		}
		if remoteETag == localETag {
			// both sides converged on the same bytes
			return Nop(), nil
		}
		return Conflict(remote, local, stored), nil
	case localUpdated:
		return Upload(remote, local), nil
	case remoteUpdated:
		return Download(remote, stored), nil
	}
	return Nop(), nil
}
