package repo

import (
	"context"
	"database/sql"
	"errors"

	"bugtrail/internal/domain"
)

const projectColumns = `id,name,COALESCE(description,''),owner_id,created_at`

func scanProject(sc interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var createdAt string
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	t, err := ParseTime(createdAt)
	if err != nil {
		return p, err
	}
	p.CreatedAt = t
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO projects(name,description,owner_id,created_at) VALUES (?,?,?,?)`,
		p.Name, nullable(p.Description), p.OwnerID, FormatTime(p.CreatedAt))
	if err != nil {
		return p, err
	}
	p.ID, err = res.LastInsertId()
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ListProjects lists every project, or those owned by ownerID when non-zero.
func (r Repo) ListProjects(ctx context.Context, ownerID int64) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if ownerID != 0 {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpsertMember records userID as a member; re-adding updates the role.
func (r Repo) UpsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role) VALUES (?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`, m.ProjectID, m.UserID, string(m.Role))
	return err
}

func (r Repo) ListMembers(ctx context.Context, projectID int64) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role FROM project_members WHERE project_id=? ORDER BY user_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		res = append(res, m)
	}
	return res, rows.Err()
}

// IsMember reports whether userID works on projectID with the given role.
func (r Repo) IsMember(ctx context.Context, tx *sql.Tx, projectID, userID int64, role domain.Role) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM project_members WHERE project_id=? AND user_id=? AND role=?`,
		projectID, userID, string(role)).Scan(&n)
	return n > 0, err
}
