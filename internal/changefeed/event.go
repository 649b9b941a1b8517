// Package changefeed delivers "something changed" signals for a collection
// to in-process subscribers. A Listener turns PostgreSQL NOTIFY messages
// into Events and a Hub fans them out.
package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Operations carried by an Event. OpResync is synthesised after the
// listener reconnects, since notifications sent while it was away are lost.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpResync = "RESYNC"
)

// AllCollections addresses an event to every subscriber.
const AllCollections = "*"

// Event describes one change. Subscribers in this service treat any event
// as "reload", so the fields are informational.
type Event struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	ID         uuid.UUID `json:"id"`
}

// ParseEvent decodes a NOTIFY payload written by the notify_post_change
// trigger.
func ParseEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("parse change event: %w", err)
	}
	if ev.Collection == "" {
		return Event{}, fmt.Errorf("parse change event: missing collection")
	}
	return ev, nil
}
