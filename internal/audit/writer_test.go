package audit_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtrail/internal/audit"
	"bugtrail/internal/db"
	"bugtrail/internal/domain"
	"bugtrail/internal/migrate"
	"bugtrail/internal/repo"
)

func seedBug(t *testing.T) (*sql.DB, int64, int64) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	r := repo.Repo{DB: conn}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	admin, err := r.InsertUser(ctx, domain.User{Username: "ada", Role: domain.RoleAdmin, CreatedAt: now})
	require.NoError(t, err)
	tester, err := r.InsertUser(ctx, domain.User{Username: "tess", Role: domain.RoleTester, CreatedAt: now})
	require.NoError(t, err)
	p, err := r.InsertProject(ctx, domain.Project{Name: "core", OwnerID: admin.ID, CreatedAt: now})
	require.NoError(t, err)

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	b, err := r.InsertBugTx(ctx, tx, domain.Bug{
		ProjectID: p.ID, Title: "crash", Priority: domain.BugHigh, Status: domain.BugOpen,
		CreatedAt: now, LastStatusChange: now, CreatorID: tester.ID,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return conn, b.ID, tester.ID
}

func TestListOrdersByTimestampDescThenID(t *testing.T) {
	conn, bugID, actor := seedBug(t)
	ctx := context.Background()
	w := audit.Writer{DB: conn}
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	stamps := []time.Time{t0, t0.Add(time.Minute), t0.Add(time.Minute), t0.Add(2 * time.Minute)}
	var ids []int64
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i, ts := range stamps {
		rec, err := w.Append(ctx, tx, domain.LogRecord{
			EntityKind: domain.KindBug, EntityID: bugID, ActorID: actor,
			Status: "OPEN", Text: string(rune('a' + i)), Timestamp: ts,
		})
		require.NoError(t, err)
		if len(ids) > 0 {
			assert.Greater(t, rec.ID, ids[len(ids)-1])
		}
		ids = append(ids, rec.ID)
	}
	require.NoError(t, tx.Commit())

	logs, err := w.List(ctx, domain.KindBug, bugID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	got := []int64{logs[0].ID, logs[1].ID, logs[2].ID, logs[3].ID}
	assert.Equal(t, []int64{ids[3], ids[1], ids[2], ids[0]}, got)
	for _, l := range logs {
		assert.Equal(t, domain.KindBug, l.EntityKind)
		assert.Equal(t, bugID, l.EntityID)
	}
}

func TestAppendRolledBackLeavesNoRecord(t *testing.T) {
	conn, bugID, actor := seedBug(t)
	ctx := context.Background()
	w := audit.Writer{DB: conn}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = w.Append(ctx, tx, domain.LogRecord{EntityKind: domain.KindBug, EntityID: bugID, ActorID: actor, Status: "OPEN", Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	logs, err := w.List(ctx, domain.KindBug, bugID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestImageRoundTrip(t *testing.T) {
	conn, bugID, actor := seedBug(t)
	ctx := context.Background()
	w := audit.Writer{DB: conn}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	rec, err := w.Append(ctx, tx, domain.LogRecord{
		EntityKind: domain.KindBug, EntityID: bugID, ActorID: actor, Status: "OPEN",
		Image: &domain.Attachment{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.True(t, rec.HasImage)

	parent, img, err := w.Image(ctx, domain.KindBug, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bugID, parent)
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.ContentType)

	_, _, err = w.Image(ctx, domain.KindTask, rec.ID)
	assert.ErrorIs(t, err, audit.ErrNotFound)
}
