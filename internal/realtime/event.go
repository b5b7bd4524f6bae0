package realtime

import (
	"encoding/json"
	"fmt"
)

// Channel is the Postgres NOTIFY channel the change triggers publish on.
const Channel = "promptory_changes"

const (
	Insert = "INSERT"
	Update = "UPDATE"
	Delete = "DELETE"
)

// Tables that emit change events.
const (
	TablePrompts           = "prompts"
	TableLikes             = "likes"
	TableCollections       = "collections"
	TableCollectionPrompts = "collection_prompts"
	TableCollectionLikes   = "collection_likes"
)

// Event is one row change. RecordID is the changed row's id; for like and
// membership rows it is the id of the liked prompt or owning collection.
type Event struct {
	Table    string `json:"table"`
	Type     string `json:"type"`
	RecordID string `json:"record_id"`
	UserID   string `json:"user_id,omitempty"`
	Title    string `json:"title,omitempty"`
}

func ParseEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode change payload: %w", err)
	}
	if ev.Table == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("change payload missing table or type: %q", payload)
	}
	return ev, nil
}
