package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Child is a mutable child profile. Timestamps are RFC3339 strings;
// UpdatedAt is the authority for conflict resolution. DeletedAt is a
// write-only soft-delete marker that no sync path currently consumes.
type Child struct {
	ID         string
	Name       string
	Birthdate  string // date-only, YYYY-MM-DD
	Sex        string // "male", "female", or ""
	AvatarURL  string
	CreatedBy  string
	SyncStatus SyncStatus
	CreatedAt  string
	UpdatedAt  string
	DeletedAt  string
}

const childColumns = `id, sync_status, created_at, updated_at, deleted_at,
       name, birthdate, sex, avatar_url, created_by`

// InsertChild inserts a new child profile. The id must be unique; ids are
// client-generated and never reused.
func (db *DB) InsertChild(c Child) error {
	query := `
		INSERT INTO children (id, sync_status, created_at, updated_at, deleted_at,
		                      name, birthdate, sex, avatar_url, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query,
		c.ID,
		string(c.SyncStatus),
		c.CreatedAt,
		c.UpdatedAt,
		nullable(c.DeletedAt),
		c.Name,
		c.Birthdate,
		nullable(c.Sex),
		nullable(c.AvatarURL),
		nullable(c.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert child: %w", err)
	}

	db.notify("children")
	return nil
}

// UpsertChild inserts a child or, when the id already exists, overwrites its
// mutable fields. Used by the pull pipeline to apply resolved records;
// created_at and created_by are never touched on conflict.
func (db *DB) UpsertChild(c Child) error {
	query := `
		INSERT INTO children (id, sync_status, created_at, updated_at, deleted_at,
		                      name, birthdate, sex, avatar_url, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sync_status = excluded.sync_status,
			updated_at = excluded.updated_at,
			name = excluded.name,
			birthdate = excluded.birthdate,
			sex = excluded.sex,
			avatar_url = excluded.avatar_url
	`

	_, err := db.conn.Exec(query,
		c.ID,
		string(c.SyncStatus),
		c.CreatedAt,
		c.UpdatedAt,
		nullable(c.DeletedAt),
		c.Name,
		c.Birthdate,
		nullable(c.Sex),
		nullable(c.AvatarURL),
		nullable(c.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert child: %w", err)
	}

	db.notify("children")
	return nil
}

// ChildUpdate contains optional fields for a local edit. Nil fields are not
// updated.
type ChildUpdate struct {
	Name      *string
	Birthdate *string
	Sex       *string
	AvatarURL *string
}

// UpdateChild applies a local edit: the given fields are written together
// with a new updated_at, and the record is marked pending for the next push.
func (db *DB) UpdateChild(id string, update ChildUpdate, updatedAt string) error {
	setClauses := []string{"sync_status = ?", "updated_at = ?"}
	args := []interface{}{string(StatusPending), updatedAt}

	if update.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Birthdate != nil {
		setClauses = append(setClauses, "birthdate = ?")
		args = append(args, *update.Birthdate)
	}
	if update.Sex != nil {
		setClauses = append(setClauses, "sex = ?")
		args = append(args, nullable(*update.Sex))
	}
	if update.AvatarURL != nil {
		setClauses = append(setClauses, "avatar_url = ?")
		args = append(args, nullable(*update.AvatarURL))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE children SET %s WHERE id = ?", strings.Join(setClauses, ", "))

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update child: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no child found with id=%s", id)
	}

	db.notify("children")
	return nil
}

// GetChild retrieves a child by id. Returns nil, nil when absent.
func (db *DB) GetChild(id string) (*Child, error) {
	query := fmt.Sprintf("SELECT %s FROM children WHERE id = ?", childColumns)
	row := db.conn.QueryRow(query, id)
	return scanChildFrom(row)
}

// ListChildren retrieves all child profiles ordered by name.
func (db *DB) ListChildren() ([]Child, error) {
	query := fmt.Sprintf("SELECT %s FROM children ORDER BY name ASC", childColumns)
	return db.queryChildren(query)
}

// PendingChildren retrieves children awaiting upload. Records marked error
// are included so every sync cycle gives failed uploads another chance.
func (db *DB) PendingChildren() ([]Child, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM children WHERE sync_status IN ('pending', 'error') ORDER BY created_at ASC",
		childColumns)
	return db.queryChildren(query)
}

// SetChildSyncStatus records the outcome of a push attempt for one child.
func (db *DB) SetChildSyncStatus(id string, status SyncStatus) error {
	result, err := db.conn.Exec("UPDATE children SET sync_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set child sync status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no child found with id=%s", id)
	}

	db.notify("children")
	return nil
}

func (db *DB) queryChildren(query string, args ...interface{}) ([]Child, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	children := []Child{}
	for rows.Next() {
		c, err := scanChildFrom(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child rows: %w", err)
	}

	return children, nil
}

// scanChildFrom scans a row into a Child struct using the scanner interface.
// This handles both *sql.Row and *sql.Rows.
func scanChildFrom(s scanner) (*Child, error) {
	var c Child
	var status string
	var deletedAt, sex, avatarURL, createdBy sql.NullString

	err := s.Scan(
		&c.ID,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
		&deletedAt,
		&c.Name,
		&c.Birthdate,
		&sex,
		&avatarURL,
		&createdBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan child: %w", err)
	}

	c.SyncStatus = SyncStatus(status)
	c.DeletedAt = deletedAt.String
	c.Sex = sex.String
	c.AvatarURL = avatarURL.String
	c.CreatedBy = createdBy.String

	return &c, nil
}
