package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventflyer/internal/flyer/model"
	pkgrepo "eventflyer/pkg/repository"
)

const (
	defaultEventTTL      = 10 * time.Minute
	defaultEventEmptyTTL = time.Minute
	eventKeyPrefix       = "flyer:event:"
)

// ErrEventNotFound is returned for an unknown event id.
var ErrEventNotFound = fmt.Errorf("event %w", pkgrepo.ErrNotFound)

// EventRepository is the event store as seen by the flyer handlers.
type EventRepository interface {
	Get(ctx context.Context, id string) (model.Event, error)
	List(ctx context.Context, opts pkgrepo.ListOptions) ([]model.Event, error)

	// ListExpired returns events whose end time is strictly before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]model.Event, error)

	// SetFlyerURL overwrites the flyer URL; unknown ids yield ErrEventNotFound.
	SetFlyerURL(ctx context.Context, id, url string) error

	// ClearFlyerURL nulls the flyer URL; clearing an already null URL succeeds.
	ClearFlyerURL(ctx context.Context, id string) error
}

func eventKey(id string) string {
	return eventKeyPrefix + id
}

func marshalEvent(event model.Event) string {
	payload, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalEvent(data string) (model.Event, error) {
	var event model.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return model.Event{}, err
	}
	return event, nil
}
