// Package notify carries entity change events over redis pub/sub. Push
// delivery is best effort: subscribers treat events as cache-invalidation
// hints and fall back to polling for correctness.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event types mirrored from the store's mutations.
const (
	EventInsert = "insert"
	EventUpdate = "update"
)

// Event is one entity change scoped to a project.
type Event struct {
	Event     string `json:"event"`
	Table     string `json:"table"`
	ProjectID string `json:"project_id"`
	EntityID  string `json:"entity_id"`
	Status    string `json:"status"`
}

// Publisher delivers events to a project-scoped channel.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ChannelFor returns the pub/sub channel name for a project scope.
func ChannelFor(projectID string) string {
	return fmt.Sprintf("events:project:%s", projectID)
}

func (e Event) encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return raw, nil
}

func decodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
