// Package care creates child profiles and care events in the local store.
// Writes are optimistic: records land in the store immediately with
// client-generated ids, and the sync engine is nudged afterwards.
package care

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sproutlabs/sproutsync/internal/store"
)

// Nudger requests a debounced sync cycle. Satisfied by *sync.Engine.
type Nudger interface {
	Nudge()
}

// NopNudger is a Nudger that does nothing, for offline use.
type NopNudger struct{}

// Nudge implements Nudger.
func (NopNudger) Nudge() {}

// Service writes care records to the local store.
type Service struct {
	store  *store.DB
	nudger Nudger
}

// NewService creates a care service. A nil nudger disables sync triggers.
func NewService(db *store.DB, nudger Nudger) *Service {
	if nudger == nil {
		nudger = NopNudger{}
	}
	return &Service{store: db, nudger: nudger}
}

// NewChildParams describes a child profile to create.
type NewChildParams struct {
	Name      string
	Birthdate string // YYYY-MM-DD
	Sex       string // "male", "female", or ""
	AvatarURL string
	CreatedBy string
	// LocalOnly records never leave the device.
	LocalOnly bool
}

// NewChild creates a child profile with a client-generated id and marks it
// pending for the next sync cycle.
func (s *Service) NewChild(p NewChildParams) (store.Child, error) {
	if p.Name == "" {
		return store.Child{}, fmt.Errorf("child name is required")
	}
	if _, err := time.Parse("2006-01-02", p.Birthdate); err != nil {
		return store.Child{}, fmt.Errorf("invalid birthdate %q: want YYYY-MM-DD", p.Birthdate)
	}
	if p.Sex != "" && p.Sex != "male" && p.Sex != "female" {
		return store.Child{}, fmt.Errorf("invalid sex %q", p.Sex)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	status := store.StatusPending
	if p.LocalOnly {
		status = store.StatusLocal
	}

	child := store.Child{
		ID:         uuid.NewString(),
		Name:       p.Name,
		Birthdate:  p.Birthdate,
		Sex:        p.Sex,
		AvatarURL:  p.AvatarURL,
		CreatedBy:  p.CreatedBy,
		SyncStatus: status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.InsertChild(child); err != nil {
		return store.Child{}, err
	}

	if !p.LocalOnly {
		s.nudger.Nudge()
	}
	return child, nil
}

// EditChild applies a local edit to a child profile: the record gets a fresh
// updated_at, goes back to pending, and the engine is nudged.
func (s *Service) EditChild(id string, update store.ChildUpdate) error {
	if update.Sex != nil && *update.Sex != "" && *update.Sex != "male" && *update.Sex != "female" {
		return fmt.Errorf("invalid sex %q", *update.Sex)
	}
	if update.Birthdate != nil {
		if _, err := time.Parse("2006-01-02", *update.Birthdate); err != nil {
			return fmt.Errorf("invalid birthdate %q: want YYYY-MM-DD", *update.Birthdate)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.store.UpdateChild(id, update, now); err != nil {
		return err
	}

	s.nudger.Nudge()
	return nil
}

// LogEventParams describes a care event to record.
type LogEventParams struct {
	ChildID        string
	Type           string
	Payload        json.RawMessage // opaque; defaults to {}
	Visibility     string          // defaults to "all"
	OrganizationID string
	CreatedBy      string
	LocalOnly      bool
}

// LogEvent appends a care event with a client-generated id and marks it
// pending for the next sync cycle. The payload is stored verbatim; its
// shape is the concern of whoever reads it back, not of the sync layer.
func (s *Service) LogEvent(p LogEventParams) (store.Event, error) {
	if !store.IsEventType(p.Type) {
		return store.Event{}, fmt.Errorf("unknown event type %q", p.Type)
	}

	visibility := p.Visibility
	if visibility == "" {
		visibility = store.VisibilityAll
	}
	if !store.IsVisibility(visibility) {
		return store.Event{}, fmt.Errorf("unknown visibility %q", p.Visibility)
	}

	payload := p.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return store.Event{}, fmt.Errorf("event payload is not valid JSON")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	status := store.StatusPending
	if p.LocalOnly {
		status = store.StatusLocal
	}

	event := store.Event{
		ID:             uuid.NewString(),
		ChildID:        p.ChildID,
		Type:           p.Type,
		Payload:        payload,
		Visibility:     visibility,
		OrganizationID: p.OrganizationID,
		CreatedBy:      p.CreatedBy,
		SyncStatus:     status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.InsertEvent(event); err != nil {
		return store.Event{}, err
	}

	if !p.LocalOnly {
		s.nudger.Nudge()
	}
	return event, nil
}
