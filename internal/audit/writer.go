// Package audit appends and reads the immutable bug and task logs.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bugtrail/internal/domain"
	"bugtrail/internal/repo"
)

var ErrNotFound = repo.ErrNotFound

// Writer has no update or delete path. Records only ever get appended.
type Writer struct {
	DB *sql.DB
}

func table(kind domain.EntityKind) (tbl, fk string, err error) {
	switch kind {
	case domain.KindBug:
		return "bug_logs", "bug_id", nil
	case domain.KindTask:
		return "task_logs", "task_id", nil
	}
	return "", "", fmt.Errorf("unknown log kind %q", kind)
}

// Append writes rec inside tx. The timestamp must be the transition's own
// timestamp; the id comes from the table and only grows.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec domain.LogRecord) (domain.LogRecord, error) {
	tbl, fk, err := table(rec.EntityKind)
	if err != nil {
		return rec, err
	}
	var imgType, img any
	if !rec.Image.Empty() {
		imgType, img = rec.Image.ContentType, rec.Image.Data
		rec.HasImage = true
	}
	var text any
	if rec.Text != "" {
		text = rec.Text
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO `+tbl+`(`+fk+`,actor_id,status,text,image_type,image,ts) VALUES (?,?,?,?,?,?,?)`,
		rec.EntityID, rec.ActorID, rec.Status, text, imgType, img, repo.FormatTime(rec.Timestamp))
	if err != nil {
		return rec, fmt.Errorf("append %s: %w", tbl, err)
	}
	rec.ID, err = res.LastInsertId()
	return rec, err
}

// List returns the records of one entity, most recent first. Records that
// share a timestamp come back in insertion order.
func (w Writer) List(ctx context.Context, kind domain.EntityKind, entityID int64) ([]domain.LogRecord, error) {
	tbl, fk, err := table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,actor_id,status,COALESCE(text,''),image IS NOT NULL,ts FROM `+tbl+` WHERE `+fk+`=? ORDER BY ts DESC, id ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogRecord
	for rows.Next() {
		rec := domain.LogRecord{EntityKind: kind, EntityID: entityID}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Status, &rec.Text, &rec.HasImage, &ts); err != nil {
			return nil, err
		}
		if rec.Timestamp, err = repo.ParseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Image loads the attachment of a single record together with the id of
// the entity it belongs to.
func (w Writer) Image(ctx context.Context, kind domain.EntityKind, logID int64) (entityID int64, img *domain.Attachment, err error) {
	tbl, fk, err := table(kind)
	if err != nil {
		return 0, nil, err
	}
	var ct sql.NullString
	var data []byte
	err = w.DB.QueryRowContext(ctx, `SELECT `+fk+`,image_type,image FROM `+tbl+` WHERE id=?`, logID).Scan(&entityID, &ct, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	if len(data) == 0 {
		return entityID, nil, nil
	}
	return entityID, &domain.Attachment{ContentType: ct.String, Data: data}, nil
}
