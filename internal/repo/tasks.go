package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bugtrail/internal/domain"
)

const taskColumns = `id,project_id,title,COALESCE(description,''),priority,status,creator_id,assignee_id,created_at,assigned_at,closed_at,image IS NOT NULL`

func scanTask(sc interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var priority, status, createdAt string
	var assignee sql.NullInt64
	var assignedAt, closedAt sql.NullString
	if err := sc.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &priority, &status, &t.CreatorID, &assignee,
		&createdAt, &assignedAt, &closedAt, &t.HasImage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, err
	}
	t.Priority = domain.TaskPriority(priority)
	t.Status = domain.TaskStatus(status)
	t.AssigneeID = idPtr(assignee)
	var err error
	if t.CreatedAt, err = ParseTime(createdAt); err != nil {
		return t, err
	}
	if t.AssignedAt, err = timePtr(assignedAt); err != nil {
		return t, err
	}
	if t.ClosedAt, err = timePtr(closedAt); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, error) {
	imgType, img := blobArgs(t.Image)
	origType, orig := blobArgs(t.OriginalImage)
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(project_id,title,description,priority,status,creator_id,assignee_id,created_at,assigned_at,closed_at,image_type,image,original_image_type,original_image)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.Title, nullable(t.Description), string(t.Priority), string(t.Status), t.CreatorID, nullableID(t.AssigneeID),
		FormatTime(t.CreatedAt), nullableTime(t.AssignedAt), nullableTime(t.ClosedAt), imgType, img, origType, orig)
	if err != nil {
		return t, err
	}
	t.ID, err = res.LastInsertId()
	t.HasImage = !t.Image.Empty()
	return t, err
}

// UpdateTaskTx saves status, assignee and the two milestone timestamps.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, assignee_id=?, assigned_at=?, closed_at=? WHERE id=?`,
		string(t.Status), nullableID(t.AssigneeID), nullableTime(t.AssignedAt), nullableTime(t.ClosedAt), t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskImage(ctx context.Context, id int64, original bool) (*domain.Attachment, error) {
	cols := `image_type,image`
	if original {
		cols = `original_image_type,original_image`
	}
	var ct sql.NullString
	var data []byte
	err := r.DB.QueryRowContext(ctx, `SELECT `+cols+` FROM tasks WHERE id=?`, id).Scan(&ct, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attachment(ct, data), nil
}

type TaskFilter struct {
	ProjectID  int64
	CreatorID  int64
	AssigneeID int64
	OwnerID    int64
	Status     domain.TaskStatus
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.CreatorID != 0 {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.AssigneeID != 0 {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.OwnerID != 0 {
		clauses = append(clauses, "project_id IN (SELECT id FROM projects WHERE owner_id=?)")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
