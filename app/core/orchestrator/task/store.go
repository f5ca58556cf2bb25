package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/pkg/types"
)

const taskColumns = `id, user_id, title, description, completed, COALESCE(priority, 0), COALESCE(due_date, 0), status, created_at, updated_at`

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) Create(ctx context.Context, owner types.OwnerID, in CreateInput) (Task, error) {
	owner = owner.Normalize()
	if owner.IsZero() {
		return Task{}, fmt.Errorf("%w: owner is required", ErrInvalid)
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := validateTitle(in.Title); err != nil {
		return Task{}, err
	}
	if err := validateDescription(in.Description); err != nil {
		return Task{}, err
	}
	if err := validatePriority(in.Priority); err != nil {
		return Task{}, err
	}

	status := NormalizeStatus(in.Status)
	if status == "" {
		status = StatusPending
	}
	completed := status == StatusCompleted
	now := time.Now().Unix()

	query := `INSERT INTO tasks (user_id, title, description, completed, priority, due_date, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.Conn().ExecContext(ctx, query,
		owner.String(), in.Title, in.Description, boolToInt(completed),
		nullableInt(int64(in.Priority)), nullableInt(in.DueDate), status, now, now)
	if err != nil {
		return Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:          id,
		OwnerID:     owner,
		Title:       in.Title,
		Description: in.Description,
		Completed:   completed,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetByID returns the task only when it belongs to owner. A task owned by
// someone else is indistinguishable from a missing one.
func (s *Store) GetByID(ctx context.Context, id int64, owner types.OwnerID) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND user_id = ?`
	return s.scanOne(s.db.Conn().QueryRowContext(ctx, query, id, owner.Normalize().String()))
}

// LookupByID fetches a task regardless of owner. It exists solely so the
// tool layer can tell permission_denied apart from not_found; every
// caller must apply its own ownership check.
func (s *Store) LookupByID(ctx context.Context, id int64) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	return s.scanOne(s.db.Conn().QueryRowContext(ctx, query, id))
}

var sortColumns = map[string]string{
	"title":      "title",
	"status":     "status",
	"priority":   "priority",
	"due_date":   "due_date",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func (s *Store) List(ctx context.Context, owner types.OwnerID, filter Filter) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []interface{}{owner.Normalize().String()}

	if status := NormalizeStatus(filter.Status); status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if filter.Priority > 0 {
		query += ` AND priority = ?`
		args = append(args, filter.Priority)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		query += ` AND (LOWER(title) LIKE '%' || ? || '%' OR LOWER(description) LIKE '%' || ? || '%')`
		args = append(args, search, search)
	}

	// insertion order unless the caller picked a sort field
	order := "id ASC"
	if column, ok := sortColumns[strings.ToLower(strings.TrimSpace(filter.SortBy))]; ok {
		direction := "ASC"
		if strings.EqualFold(strings.TrimSpace(filter.SortOrder), "desc") {
			direction = "DESC"
		}
		order = column + " " + direction + ", id ASC"
	}
	query += ` ORDER BY ` + order

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// FindByTitle returns the owner's tasks whose title contains fragment,
// case-insensitively, oldest first.
func (s *Store) FindByTitle(ctx context.Context, owner types.OwnerID, fragment string) ([]Task, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return nil, nil
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND LOWER(title) LIKE '%' || ? || '%' ORDER BY id ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query, owner.Normalize().String(), fragment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// Update applies the non-nil fields of in to the owner's task. Setting
// status also derives the completed flag; setting completed without a
// status back-fills the status so the two never disagree.
func (s *Store) Update(ctx context.Context, id int64, owner types.OwnerID, in UpdateInput) (Task, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND user_id = ?`
	current, err := s.scanOne(tx.QueryRowContext(ctx, query, id, owner.Normalize().String()))
	if err != nil {
		return Task{}, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := validateTitle(title); err != nil {
			return Task{}, err
		}
		current.Title = title
	}
	if in.Description != nil {
		if err := validateDescription(*in.Description); err != nil {
			return Task{}, err
		}
		current.Description = *in.Description
	}
	if in.Priority != nil {
		if err := validatePriority(*in.Priority); err != nil {
			return Task{}, err
		}
		current.Priority = *in.Priority
	}
	if in.DueDate != nil {
		current.DueDate = *in.DueDate
	}
	if in.Status != nil {
		status := NormalizeStatus(*in.Status)
		if status == "" {
			status = StatusPending
		}
		current.Status = status
		current.Completed = status == StatusCompleted
	}
	if in.Completed != nil {
		current.Completed = *in.Completed
		if in.Status == nil {
			if *in.Completed {
				current.Status = StatusCompleted
			} else if current.Status == StatusCompleted {
				current.Status = StatusPending
			}
		}
	}

	current.UpdatedAt = time.Now().Unix()
	update := `UPDATE tasks SET title = ?, description = ?, completed = ?, priority = ?, due_date = ?, status = ?, updated_at = ? WHERE id = ? AND user_id = ?`
	if _, err := tx.ExecContext(ctx, update,
		current.Title, current.Description, boolToInt(current.Completed),
		nullableInt(int64(current.Priority)), nullableInt(current.DueDate),
		current.Status, current.UpdatedAt, id, current.OwnerID.String()); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, err
	}
	return current, nil
}

func (s *Store) Delete(ctx context.Context, id int64, owner types.OwnerID) (bool, error) {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, owner.Normalize().String())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) scanOne(row *sql.Row) (Task, error) {
	var (
		t         Task
		owner     string
		completed int
		priority  int64
	)
	err := row.Scan(&t.ID, &owner, &t.Title, &t.Description, &completed, &priority, &t.DueDate, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	t.OwnerID = types.OwnerID(owner)
	t.Completed = completed != 0
	t.Priority = int(priority)
	return t, nil
}

func (s *Store) scanAll(rows *sql.Rows) ([]Task, error) {
	items := make([]Task, 0, 8)
	for rows.Next() {
		var (
			t         Task
			owner     string
			completed int
			priority  int64
		)
		if err := rows.Scan(&t.ID, &owner, &t.Title, &t.Description, &completed, &priority, &t.DueDate, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.OwnerID = types.OwnerID(owner)
		t.Completed = completed != 0
		t.Priority = int(priority)
		items = append(items, t)
	}
	return items, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
