package sync

import (
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/store"
)

// wireChild converts a stored child to its wire representation. Optional
// fields travel as JSON null when unset.
func wireChild(c store.Child) remote.Child {
	rc := remote.Child{
		ID:        c.ID,
		Name:      c.Name,
		Birthdate: c.Birthdate,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Sex != "" {
		rc.Sex = &c.Sex
	}
	if c.AvatarURL != "" {
		rc.AvatarURL = &c.AvatarURL
	}
	return rc
}

// localChild converts a wire child to a store record. The caller sets the
// sync status.
func localChild(rc remote.Child) store.Child {
	c := store.Child{
		ID:        rc.ID,
		Name:      rc.Name,
		Birthdate: rc.Birthdate,
		CreatedBy: rc.CreatedBy,
		CreatedAt: rc.CreatedAt,
		UpdatedAt: rc.UpdatedAt,
	}
	if rc.Sex != nil {
		c.Sex = *rc.Sex
	}
	if rc.AvatarURL != nil {
		c.AvatarURL = *rc.AvatarURL
	}
	return c
}

func wireEvent(ev store.Event) remote.Event {
	re := remote.Event{
		ID:         ev.ID,
		ChildID:    ev.ChildID,
		Type:       ev.Type,
		Payload:    ev.Payload,
		Visibility: ev.Visibility,
		CreatedBy:  ev.CreatedBy,
		CreatedAt:  ev.CreatedAt,
	}
	if ev.OrganizationID != "" {
		re.OrganizationID = &ev.OrganizationID
	}
	return re
}

// localEvent converts a wire event to a store record. Events are immutable,
// so updated_at mirrors created_at.
func localEvent(re remote.Event) store.Event {
	ev := store.Event{
		ID:         re.ID,
		ChildID:    re.ChildID,
		Type:       re.Type,
		Payload:    re.Payload,
		Visibility: re.Visibility,
		CreatedBy:  re.CreatedBy,
		CreatedAt:  re.CreatedAt,
		UpdatedAt:  re.CreatedAt,
	}
	if re.OrganizationID != nil {
		ev.OrganizationID = *re.OrganizationID
	}
	return ev
}
