package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation a queue item replays.
type Action string

const (
	ActionCreate Action = "create_entry"
	ActionUpdate Action = "update_entry"
	ActionDelete Action = "delete_entry"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// QueueItem is a buffered mutation awaiting remote replay.
type QueueItem struct {
	ID         int64
	Action     Action
	Payload    json.RawMessage
	EnqueuedAt time.Time
	Synced     bool
	SyncedAt   *time.Time
	Attempts   int
	LastError  string
}

// DeletePayload is the id-only payload of a delete_entry item.
type DeletePayload struct {
	ID string `json:"id"`
}

// Entry decodes the full record carried by a create or update item.
func (q QueueItem) Entry() (Entry, error) {
	var e Entry
	if err := json.Unmarshal(q.Payload, &e); err != nil {
		return Entry{}, fmt.Errorf("decode %s payload of item %d: %w", q.Action, q.ID, err)
	}
	return e, nil
}

// TargetID is the id of the entry the item mutates.
func (q QueueItem) TargetID() (string, error) {
	var p DeletePayload
	if err := json.Unmarshal(q.Payload, &p); err != nil {
		return "", fmt.Errorf("decode %s payload of item %d: %w", q.Action, q.ID, err)
	}
	return p.ID, nil
}
