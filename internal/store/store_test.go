package store

import (
	"path/filepath"
	"strings"
	"testing"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testChild(id string) Child {
	return Child{
		ID:         id,
		Name:       "Maya",
		Birthdate:  "2024-03-15",
		Sex:        "female",
		CreatedBy:  "user-1",
		SyncStatus: StatusPending,
		CreatedAt:  "2025-01-10T08:00:00Z",
		UpdatedAt:  "2025-01-10T08:00:00Z",
	}
}

func testEvent(id, childID string) Event {
	return Event{
		ID:         id,
		ChildID:    childID,
		Type:       EventNap,
		Payload:    []byte(`{"start":"2025-01-10T12:00:00Z"}`),
		Visibility: VisibilityAll,
		CreatedBy:  "user-1",
		SyncStatus: StatusPending,
		CreatedAt:  "2025-01-10T12:30:00Z",
		UpdatedAt:  "2025-01-10T12:30:00Z",
	}
}

func strPtr(s string) *string {
	return &s
}

func TestOpenCreatesSchema(t *testing.T) {
	db := testDB(t)

	// All three tables should exist and be queryable.
	if _, err := db.ListChildren(); err != nil {
		t.Errorf("ListChildren on fresh db failed: %v", err)
	}
	if _, err := db.PendingEvents(); err != nil {
		t.Errorf("PendingEvents on fresh db failed: %v", err)
	}
	if _, err := db.Watermark(WatermarkChildren); err != nil {
		t.Errorf("Watermark on fresh db failed: %v", err)
	}
}

func TestInsertAndGetChild(t *testing.T) {
	db := testDB(t)

	c := testChild("child-1")
	if err := db.InsertChild(c); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	got, err := db.GetChild("child-1")
	if err != nil {
		t.Fatalf("GetChild failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetChild returned nil for existing child")
	}
	if got.Name != "Maya" || got.Birthdate != "2024-03-15" || got.Sex != "female" {
		t.Errorf("GetChild returned wrong fields: %+v", got)
	}
	if got.SyncStatus != StatusPending {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, StatusPending)
	}
}

func TestGetChildAbsent(t *testing.T) {
	db := testDB(t)

	got, err := db.GetChild("nope")
	if err != nil {
		t.Fatalf("GetChild failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetChild for absent id = %+v, want nil", got)
	}
}

func TestInsertChildDuplicateID(t *testing.T) {
	db := testDB(t)

	c := testChild("child-1")
	if err := db.InsertChild(c); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}
	if err := db.InsertChild(c); err == nil {
		t.Error("Expected error inserting duplicate child id")
	}
}

func TestUpsertChildOverwritesMutableFields(t *testing.T) {
	db := testDB(t)

	c := testChild("child-1")
	if err := db.InsertChild(c); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	incoming := c
	incoming.Name = "Maya R."
	incoming.UpdatedAt = "2025-01-11T09:00:00Z"
	incoming.SyncStatus = StatusSynced
	incoming.CreatedAt = "2030-01-01T00:00:00Z" // must not be applied
	if err := db.UpsertChild(incoming); err != nil {
		t.Fatalf("UpsertChild failed: %v", err)
	}

	got, err := db.GetChild("child-1")
	if err != nil {
		t.Fatalf("GetChild failed: %v", err)
	}
	if got.Name != "Maya R." {
		t.Errorf("Name = %q, want %q", got.Name, "Maya R.")
	}
	if got.UpdatedAt != "2025-01-11T09:00:00Z" {
		t.Errorf("UpdatedAt = %q, want updated value", got.UpdatedAt)
	}
	if got.SyncStatus != StatusSynced {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, StatusSynced)
	}
	if got.CreatedAt != c.CreatedAt {
		t.Errorf("CreatedAt changed on upsert: %q", got.CreatedAt)
	}
}

func TestUpsertChildInsertsWhenAbsent(t *testing.T) {
	db := testDB(t)

	c := testChild("child-1")
	if err := db.UpsertChild(c); err != nil {
		t.Fatalf("UpsertChild failed: %v", err)
	}

	got, err := db.GetChild("child-1")
	if err != nil {
		t.Fatalf("GetChild failed: %v", err)
	}
	if got == nil {
		t.Fatal("UpsertChild did not insert absent record")
	}
}

func TestUpdateChildMarksPending(t *testing.T) {
	db := testDB(t)

	c := testChild("child-1")
	c.SyncStatus = StatusSynced
	if err := db.InsertChild(c); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	update := ChildUpdate{Name: strPtr("New Name")}
	if err := db.UpdateChild("child-1", update, "2025-01-12T10:00:00Z"); err != nil {
		t.Fatalf("UpdateChild failed: %v", err)
	}

	got, _ := db.GetChild("child-1")
	if got.Name != "New Name" {
		t.Errorf("Name = %q, want %q", got.Name, "New Name")
	}
	if got.SyncStatus != StatusPending {
		t.Errorf("SyncStatus after edit = %q, want pending", got.SyncStatus)
	}
	if got.UpdatedAt != "2025-01-12T10:00:00Z" {
		t.Errorf("UpdatedAt = %q, want new timestamp", got.UpdatedAt)
	}
	// Untouched fields survive.
	if got.Birthdate != c.Birthdate {
		t.Errorf("Birthdate changed unexpectedly: %q", got.Birthdate)
	}
}

func TestUpdateChildNotFound(t *testing.T) {
	db := testDB(t)

	err := db.UpdateChild("nope", ChildUpdate{Name: strPtr("x")}, "2025-01-12T10:00:00Z")
	if err == nil {
		t.Error("Expected error updating absent child")
	}
	if err != nil && !strings.Contains(err.Error(), "no child found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPendingChildrenIncludesError(t *testing.T) {
	db := testDB(t)

	statuses := map[string]SyncStatus{
		"c-local":   StatusLocal,
		"c-pending": StatusPending,
		"c-synced":  StatusSynced,
		"c-error":   StatusError,
	}
	for id, status := range statuses {
		c := testChild(id)
		c.SyncStatus = status
		if err := db.InsertChild(c); err != nil {
			t.Fatalf("InsertChild(%s) failed: %v", id, err)
		}
	}

	pending, err := db.PendingChildren()
	if err != nil {
		t.Fatalf("PendingChildren failed: %v", err)
	}

	ids := make(map[string]bool)
	for _, c := range pending {
		ids[c.ID] = true
	}
	if len(pending) != 2 || !ids["c-pending"] || !ids["c-error"] {
		t.Errorf("PendingChildren = %v, want pending and error records only", ids)
	}
}

func TestSetChildSyncStatus(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	if err := db.SetChildSyncStatus("child-1", StatusSynced); err != nil {
		t.Fatalf("SetChildSyncStatus failed: %v", err)
	}
	got, _ := db.GetChild("child-1")
	if got.SyncStatus != StatusSynced {
		t.Errorf("SyncStatus = %q, want synced", got.SyncStatus)
	}

	if err := db.SetChildSyncStatus("nope", StatusSynced); err == nil {
		t.Error("Expected error for absent child")
	}
}

func TestInsertEventForeignKey(t *testing.T) {
	db := testDB(t)

	// No such child: the foreign key must reject the event.
	if err := db.InsertEvent(testEvent("ev-1", "ghost")); err == nil {
		t.Error("Expected foreign key error inserting event for absent child")
	}

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}
	if err := db.InsertEvent(testEvent("ev-1", "child-1")); err != nil {
		t.Errorf("InsertEvent failed: %v", err)
	}
}

func TestInsertEventIfAbsentIsIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	ev := testEvent("ev-1", "child-1")
	if err := db.InsertEventIfAbsent(ev); err != nil {
		t.Fatalf("InsertEventIfAbsent failed: %v", err)
	}

	// Second copy with different payload is dropped; first write wins.
	dup := ev
	dup.Payload = []byte(`{"tampered":true}`)
	if err := db.InsertEventIfAbsent(dup); err != nil {
		t.Fatalf("InsertEventIfAbsent (duplicate) failed: %v", err)
	}

	got, err := db.GetEvent("ev-1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if string(got.Payload) != `{"start":"2025-01-10T12:00:00Z"}` {
		t.Errorf("Payload = %s, want original payload preserved", got.Payload)
	}

	events, _ := db.ListEvents("child-1")
	if len(events) != 1 {
		t.Errorf("ListEvents returned %d events, want 1", len(events))
	}
}

func TestInsertEventEmptyPayloadDefaults(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	ev := testEvent("ev-1", "child-1")
	ev.Payload = nil
	if err := db.InsertEvent(ev); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	got, _ := db.GetEvent("ev-1")
	if string(got.Payload) != "{}" {
		t.Errorf("Payload = %s, want {}", got.Payload)
	}
}

func TestListEventsOrderedByCreation(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	late := testEvent("ev-late", "child-1")
	late.CreatedAt = "2025-01-10T18:00:00Z"
	early := testEvent("ev-early", "child-1")
	early.CreatedAt = "2025-01-10T06:00:00Z"

	if err := db.InsertEvent(late); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if err := db.InsertEvent(early); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	events, err := db.ListEvents("child-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != "ev-early" || events[1].ID != "ev-late" {
		t.Errorf("ListEvents order wrong: %v", events)
	}
}

func TestPendingEventsIncludesError(t *testing.T) {
	db := testDB(t)

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}

	statuses := map[string]SyncStatus{
		"ev-pending": StatusPending,
		"ev-synced":  StatusSynced,
		"ev-error":   StatusError,
	}
	for id, status := range statuses {
		ev := testEvent(id, "child-1")
		ev.SyncStatus = status
		if err := db.InsertEvent(ev); err != nil {
			t.Fatalf("InsertEvent(%s) failed: %v", id, err)
		}
	}

	pending, err := db.PendingEvents()
	if err != nil {
		t.Fatalf("PendingEvents failed: %v", err)
	}

	ids := make(map[string]bool)
	for _, ev := range pending {
		ids[ev.ID] = true
	}
	if len(pending) != 2 || !ids["ev-pending"] || !ids["ev-error"] {
		t.Errorf("PendingEvents = %v, want pending and error records only", ids)
	}
}

func TestWatermarkLifecycle(t *testing.T) {
	db := testDB(t)

	// Fresh database: no watermark yet.
	wm, err := db.Watermark(WatermarkChildren)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if wm != nil {
		t.Errorf("Watermark on fresh db = %q, want nil", *wm)
	}

	if err := db.SetWatermark(WatermarkChildren, "2025-01-10T12:00:00Z"); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	wm, err = db.Watermark(WatermarkChildren)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if wm == nil || *wm != "2025-01-10T12:00:00Z" {
		t.Errorf("Watermark = %v, want set value", wm)
	}

	// Overwrite advances the value.
	if err := db.SetWatermark(WatermarkChildren, "2025-01-11T12:00:00Z"); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	wm, _ = db.Watermark(WatermarkChildren)
	if wm == nil || *wm != "2025-01-11T12:00:00Z" {
		t.Errorf("Watermark = %v, want advanced value", wm)
	}

	// The two families track independently.
	evWM, _ := db.Watermark(WatermarkEvents)
	if evWM != nil {
		t.Errorf("Events watermark = %q, want nil", *evWM)
	}
}

func TestSubscribeNotifiesOnWrites(t *testing.T) {
	db := testDB(t)

	var tables []string
	unsubscribe := db.Subscribe(func(table string) {
		tables = append(tables, table)
	})

	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}
	if err := db.InsertEvent(testEvent("ev-1", "child-1")); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if err := db.SetWatermark(WatermarkEvents, "2025-01-10T12:00:00Z"); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	want := []string{"children", "events", "sync_meta"}
	if len(tables) != len(want) {
		t.Fatalf("Got %d notifications, want %d: %v", len(tables), len(want), tables)
	}
	for i, table := range want {
		if tables[i] != table {
			t.Errorf("Notification %d = %q, want %q", i, tables[i], table)
		}
	}

	// After unsubscribing, no further notifications arrive.
	unsubscribe()
	if err := db.InsertChild(testChild("child-2")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}
	if len(tables) != len(want) {
		t.Errorf("Received notification after unsubscribe: %v", tables)
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.InsertChild(testChild("child-1")); err != nil {
		t.Fatalf("InsertChild failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db2.Close()

	got, err := db2.GetChild("child-1")
	if err != nil {
		t.Fatalf("GetChild after reopen failed: %v", err)
	}
	if got == nil || got.Name != "Maya" {
		t.Errorf("Child not persisted across reopen: %+v", got)
	}
}
