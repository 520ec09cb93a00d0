package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Event type tags form a closed enumeration. The payload shape depends on
// the type tag and is opaque to the sync layer.
const (
	EventNap      = "nap"
	EventMeal     = "meal"
	EventDiaper   = "diaper"
	EventNote     = "note"
	EventMessage  = "message"
	EventGrowth   = "growth"
	EventMeds     = "meds"
	EventActivity = "activity"
)

// Visibility tags control sharing scope.
const (
	VisibilityAll         = "all"
	VisibilityParentsOnly = "parents_only"
	VisibilityOrgOnly     = "org_only"
)

// IsEventType reports whether s is a known event type tag.
func IsEventType(s string) bool {
	switch s {
	case EventNap, EventMeal, EventDiaper, EventNote, EventMessage, EventGrowth, EventMeds, EventActivity:
		return true
	}
	return false
}

// IsVisibility reports whether s is a known visibility tag.
func IsVisibility(s string) bool {
	switch s {
	case VisibilityAll, VisibilityParentsOnly, VisibilityOrgOnly:
		return true
	}
	return false
}

// Event is an append-only care event. Events are never mutated after
// creation; UpdatedAt mirrors CreatedAt. Payload is stored verbatim and
// never decoded by the sync layer.
type Event struct {
	ID             string
	ChildID        string
	Type           string
	Payload        json.RawMessage
	Visibility     string
	OrganizationID string
	CreatedBy      string
	SyncStatus     SyncStatus
	CreatedAt      string
	UpdatedAt      string
	DeletedAt      string
}

const eventColumns = `id, sync_status, created_at, updated_at, deleted_at,
       child_id, type, payload, visibility, organization_id, created_by`

// InsertEvent inserts a new care event. Fails if the owning child does not
// exist locally (foreign key) or the id is already taken.
func (db *DB) InsertEvent(ev Event) error {
	return db.insertEvent(ev, false)
}

// InsertEventIfAbsent inserts an event unless its id already exists. Used by
// the pull pipeline: events are immutable, so a known id means the event is
// already present and the incoming copy is dropped.
func (db *DB) InsertEventIfAbsent(ev Event) error {
	return db.insertEvent(ev, true)
}

func (db *DB) insertEvent(ev Event, ignoreDuplicate bool) error {
	verb := "INSERT"
	if ignoreDuplicate {
		verb = "INSERT OR IGNORE"
	}

	query := fmt.Sprintf(`
		%s INTO events (id, sync_status, created_at, updated_at, deleted_at,
		                child_id, type, payload, visibility, organization_id, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, verb)

	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := db.conn.Exec(query,
		ev.ID,
		string(ev.SyncStatus),
		ev.CreatedAt,
		ev.UpdatedAt,
		nullable(ev.DeletedAt),
		ev.ChildID,
		ev.Type,
		payload,
		ev.Visibility,
		nullable(ev.OrganizationID),
		nullable(ev.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	db.notify("events")
	return nil
}

// GetEvent retrieves an event by id. Returns nil, nil when absent.
func (db *DB) GetEvent(id string) (*Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE id = ?", eventColumns)
	row := db.conn.QueryRow(query, id)
	return scanEventFrom(row)
}

// ListEvents retrieves all events for a child ordered by creation time.
func (db *DB) ListEvents(childID string) ([]Event, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM events WHERE child_id = ? ORDER BY created_at ASC",
		eventColumns)
	return db.queryEvents(query, childID)
}

// PendingEvents retrieves events awaiting upload, including records whose
// last upload attempt failed.
func (db *DB) PendingEvents() ([]Event, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM events WHERE sync_status IN ('pending', 'error') ORDER BY created_at ASC",
		eventColumns)
	return db.queryEvents(query)
}

// SetEventSyncStatus records the outcome of a push attempt for one event.
func (db *DB) SetEventSyncStatus(id string, status SyncStatus) error {
	result, err := db.conn.Exec("UPDATE events SET sync_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set event sync status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no event found with id=%s", id)
	}

	db.notify("events")
	return nil
}

func (db *DB) queryEvents(query string, args ...interface{}) ([]Event, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEventFrom(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

func scanEventFrom(s scanner) (*Event, error) {
	var ev Event
	var status, payload string
	var deletedAt, organizationID, createdBy sql.NullString

	err := s.Scan(
		&ev.ID,
		&status,
		&ev.CreatedAt,
		&ev.UpdatedAt,
		&deletedAt,
		&ev.ChildID,
		&ev.Type,
		&payload,
		&ev.Visibility,
		&organizationID,
		&createdBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	ev.SyncStatus = SyncStatus(status)
	ev.DeletedAt = deletedAt.String
	ev.Payload = json.RawMessage(payload)
	ev.OrganizationID = organizationID.String
	ev.CreatedBy = createdBy.String

	return &ev, nil
}
