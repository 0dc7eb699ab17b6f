package upload

import (
	"slices"

	"rehearse/internal/services/practice"
)

// mergeItem applies the fields a submission can change onto local, leaving the
// rest of the local item untouched. A replaced recording invalidates the
// derived artifact of the previous take unless the server reports a new one.
func mergeItem(local, remote practice.Item, replaced bool) practice.Item {
	local.IsCompleted = remote.IsCompleted || local.IsCompleted
	if remote.RecordingURL != "" {
		local.RecordingURL = remote.RecordingURL
	}
	switch {
	case remote.ResultURL != "":
		local.ResultURL = remote.ResultURL
	case replaced:
		local.ResultURL = ""
	}
	if remote.MediaID != "" {
		local.MediaID = remote.MediaID
	}
	return local
}

// submittedItem finds the item matching id in the upload response.
func submittedItem(resp practice.UploadResponse, id string) (practice.Item, bool) {
	if resp.Item.ID == id {
		return resp.Item, true
	}
	for _, item := range resp.Items {
		if item.ID == id {
			return item, true
		}
	}
	return resp.Session.FindItem(id)
}

// reconcile merges an accepted upload into state.
func reconcile(state State, task Task, resp practice.UploadResponse) State {
	remote, ok := submittedItem(resp, task.ItemID)
	if !ok {
		remote = practice.Item{ID: task.ItemID, IsCompleted: true}
	}
	if state.Item.ID == "" || state.Item.ID == task.ItemID {
		if state.Item.ID == "" {
			state.Item = remote
		} else {
			state.Item = mergeItem(state.Item, remote, task.IsReplacement)
		}
		state.LocalArtifactURL = task.Artifact.URL
	}

	if resp.Session.ID != "" {
		state.Session = applySnapshot(state.Session, practice.Session{
			ID:             resp.Session.ID,
			Title:          resp.Session.Title,
			TotalItems:     resp.Session.TotalItems,
			CompletedItems: resp.Session.CompletedItems,
			IsCompleted:    resp.Session.IsCompleted,
		})
	}

	// The caller still holds the original slice.
	state.Session.Items = slices.Clone(state.Session.Items)
	found := false
	for i := range state.Session.Items {
		if state.Session.Items[i].ID == task.ItemID {
			state.Session.Items[i] = mergeItem(state.Session.Items[i], remote, task.IsReplacement)
			found = true
		}
	}
	if !found && len(state.Session.Items) > 0 {
		state.Session.Items = append(state.Session.Items, remote)
	}
	return state
}

// applySnapshot takes the counters of a server session read and merges its
// items into local by identity. Local items missing from the read are kept.
func applySnapshot(local, fresh practice.Session) practice.Session {
	local.ID = fresh.ID
	if fresh.Title != "" {
		local.Title = fresh.Title
	}
	local.TotalItems = fresh.TotalItems
	local.CompletedItems = fresh.CompletedItems
	local.IsCompleted = fresh.IsCompleted
	if len(fresh.Items) == 0 {
		return local
	}

	items := slices.Clone(local.Items)
	for _, remote := range fresh.Items {
		i := slices.IndexFunc(items, func(item practice.Item) bool { return item.ID == remote.ID })
		if i < 0 {
			items = append(items, remote)
			continue
		}
		items[i] = mergeItem(items[i], remote, false)
	}
	local.Items = items
	return local
}
