package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"bugtrail/internal/domain"
)

const bugColumns = `id,project_id,title,COALESCE(description,''),priority,status,COALESCE(resolution,''),created_at,last_status_change,breached,creator_id,assignee_id,image IS NOT NULL`

func scanBug(sc interface{ Scan(...any) error }) (domain.Bug, error) {
	var b domain.Bug
	var priority, status, createdAt, lastChange string
	var assignee sql.NullInt64
	if err := sc.Scan(&b.ID, &b.ProjectID, &b.Title, &b.Description, &priority, &status, &b.Resolution,
		&createdAt, &lastChange, &b.Breached, &b.CreatorID, &assignee, &b.HasImage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	b.Priority = domain.BugPriority(priority)
	b.Status = domain.BugStatus(status)
	b.AssigneeID = idPtr(assignee)
	var err error
	if b.CreatedAt, err = ParseTime(createdAt); err != nil {
		return b, err
	}
	if b.LastStatusChange, err = ParseTime(lastChange); err != nil {
		return b, err
	}
	return b, nil
}

// InsertBugTx stores a new bug with its image as both current and original.
func (r Repo) InsertBugTx(ctx context.Context, tx *sql.Tx, b domain.Bug) (domain.Bug, error) {
	imgType, img := blobArgs(b.Image)
	origType, orig := blobArgs(b.OriginalImage)
	res, err := tx.ExecContext(ctx, `INSERT INTO bugs(project_id,title,description,priority,status,resolution,created_at,last_status_change,breached,creator_id,assignee_id,image_type,image,original_image_type,original_image)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ProjectID, b.Title, nullable(b.Description), string(b.Priority), string(b.Status), nullable(b.Resolution),
		FormatTime(b.CreatedAt), FormatTime(b.LastStatusChange), b.Breached, b.CreatorID, nullableID(b.AssigneeID),
		imgType, img, origType, orig)
	if err != nil {
		return b, err
	}
	b.ID, err = res.LastInsertId()
	b.HasImage = !b.Image.Empty()
	return b, err
}

// UpdateBugTx saves the workflow fields. The breached flag is never written
// here; see MarkBreached. A non-empty Image replaces the current image.
func (r Repo) UpdateBugTx(ctx context.Context, tx *sql.Tx, b domain.Bug) error {
	query := `UPDATE bugs SET status=?, resolution=?, last_status_change=?, assignee_id=?`
	args := []any{string(b.Status), nullable(b.Resolution), FormatTime(b.LastStatusChange), nullableID(b.AssigneeID)}
	if !b.Image.Empty() {
		// type and data always move together
		imgType, img := blobArgs(b.Image)
		query += `, image_type=?, image=?`
		args = append(args, imgType, img)
	}
	res, err := tx.ExecContext(ctx, query+` WHERE id=?`, append(args, b.ID)...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// MarkBreached flips breached to true if it is still false and reports
// whether this call did the flip.
func (r Repo) MarkBreached(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE bugs SET breached=1 WHERE id=? AND breached=0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetBug(ctx context.Context, id int64) (domain.Bug, error) {
	return r.GetBugTx(ctx, nil, id)
}

func (r Repo) GetBugTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Bug, error) {
	return scanBug(r.q(tx).QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id=?`, id))
}

// GetBugImage returns the current or original image; nil when none was stored.
func (r Repo) GetBugImage(ctx context.Context, id int64, original bool) (*domain.Attachment, error) {
	cols := `image_type,image`
	if original {
		cols = `original_image_type,original_image`
	}
	var ct sql.NullString
	var data []byte
	err := r.DB.QueryRowContext(ctx, `SELECT `+cols+` FROM bugs WHERE id=?`, id).Scan(&ct, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attachment(ct, data), nil
}

type BugOrder int

const (
	// ByCreatedDesc is newest first.
	ByCreatedDesc BugOrder = iota
	// ByPriority is HIGH, MEDIUM, LOW, then ascending id.
	ByPriority
)

// BugFilter narrows ListBugs. Zero values are ignored.
type BugFilter struct {
	ProjectID  int64
	CreatorID  int64
	AssigneeID int64
	// OwnerID keeps bugs in projects owned by this admin.
	OwnerID  int64
	Status   domain.BugStatus
	Priority domain.BugPriority
	Breached *bool
	// Unfinished excludes RESOLVED and CLOSED bugs.
	Unfinished bool
	Since      time.Time
	Order      BugOrder
}

func (r Repo) ListBugs(ctx context.Context, f BugFilter) ([]domain.Bug, error) {
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
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, string(f.Priority))
	}
	if f.Breached != nil {
		clauses = append(clauses, "breached=?")
		args = append(args, *f.Breached)
	}
	if f.Unfinished {
		clauses = append(clauses, "status NOT IN ('RESOLVED','CLOSED')")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, FormatTime(f.Since))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := ` ORDER BY created_at DESC, id DESC`
	if f.Order == ByPriority {
		order = ` ORDER BY CASE priority WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 3 ELSE 4 END, id ASC`
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bugColumns+` FROM bugs `+where+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
