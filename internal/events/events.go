// Package events carries marketplace signals from the ledger outbox to subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davidahmann/surety/pkg/types"
)

// Event is one outbox entry on the wire.
type Event struct {
	ID        string          `json:"id"`
	Kind      types.EventKind `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// Decode unmarshals the event payload into T.
func Decode[T any](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s event %s: %w", ev.Kind, ev.ID, err)
	}
	return out, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Handler func(ctx context.Context, ev Event) error

// Subscriber delivers events of the given kinds to handle until ctx is cancelled.
// An empty kinds list subscribes to everything.
type Subscriber interface {
	Subscribe(ctx context.Context, kinds []types.EventKind, handle Handler) error
}

func wants(kinds []types.EventKind, kind types.EventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
