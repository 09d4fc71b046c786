package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtrail/internal/db"
	"bugtrail/internal/domain"
	"bugtrail/internal/migrate"
	"bugtrail/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func saveBug(t *testing.T, r repo.Repo, b domain.Bug) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.UpdateBugTx(ctx, tx, b))
	require.NoError(t, tx.Commit())
}

func TestUpdateBugReplacesImageTypeWithData(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	tester, err := r.InsertUser(ctx, domain.User{Username: "tess", Role: domain.RoleTester, CreatedAt: now})
	require.NoError(t, err)
	owner, err := r.InsertUser(ctx, domain.User{Username: "ada", Role: domain.RoleAdmin, CreatedAt: now})
	require.NoError(t, err)
	p, err := r.InsertProject(ctx, domain.Project{Name: "Payments", OwnerID: owner.ID, CreatedAt: now})
	require.NoError(t, err)

	png := &domain.Attachment{ContentType: "image/png", Data: []byte("first")}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	b, err := r.InsertBugTx(ctx, tx, domain.Bug{
		ProjectID: p.ID, Title: "Totals off", Priority: domain.BugHigh, Status: domain.BugOpen,
		CreatedAt: now, LastStatusChange: now, CreatorID: tester.ID, Image: png, OriginalImage: png,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// no image: current one is untouched
	b.Image = nil
	b.Status = domain.BugAssigned
	saveBug(t, r, b)
	img, err := r.GetBugImage(ctx, b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, []byte("first"), img.Data)

	// untyped replacement does not inherit the old type
	b.Image = &domain.Attachment{Data: []byte("second")}
	saveBug(t, r, b)
	img, err = r.GetBugImage(ctx, b.ID, false)
	require.NoError(t, err)
	assert.Empty(t, img.ContentType)
	assert.Equal(t, []byte("second"), img.Data)

	orig, err := r.GetBugImage(ctx, b.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "image/png", orig.ContentType)
	assert.Equal(t, []byte("first"), orig.Data)

	got, err := r.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BugAssigned, got.Status)
	assert.True(t, got.HasImage)
}
