package breach_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtrail/internal/breach"
	"bugtrail/internal/domain"
)

type fakeStore struct {
	flagged map[int64]bool
	writes  int
	err     error
}

func (f *fakeStore) MarkBreached(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.flagged == nil {
		f.flagged = map[int64]bool{}
	}
	if f.flagged[id] {
		return false, nil
	}
	f.flagged[id] = true
	f.writes++
	return true, nil
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func openBug(status domain.BugStatus) domain.Bug {
	return domain.Bug{ID: 7, Status: status, CreatedAt: t0, LastStatusChange: t0}
}

func TestCheckThreshold(t *testing.T) {
	store := &fakeStore{}
	m := breach.Monitor{Threshold: 210 * time.Second, Store: store}
	ctx := context.Background()

	b := openBug(domain.BugOpen)
	hit, err := m.Check(ctx, &b, t0.Add(209*time.Second))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, b.Breached)
	assert.Equal(t, 0, store.writes)

	hit, err = m.Check(ctx, &b, t0.Add(210*time.Second))
	require.NoError(t, err)
	assert.False(t, hit, "exactly at the threshold is not a breach")

	hit, err = m.Check(ctx, &b, t0.Add(211*time.Second))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, b.Breached)
	assert.Equal(t, 1, store.writes)
}

func TestCheckIsMonotonic(t *testing.T) {
	store := &fakeStore{}
	m := breach.Monitor{Threshold: time.Minute, Store: store}
	ctx := context.Background()

	b := openBug(domain.BugAssigned)
	b.Breached = true
	// resolved afterwards and inside the window: still breached
	b.Status = domain.BugResolved
	b.LastStatusChange = t0.Add(time.Hour)
	hit, err := m.Check(ctx, &b, t0.Add(time.Hour+time.Second))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 0, store.writes)
}

func TestCheckSkipsFinishedBugs(t *testing.T) {
	for _, st := range []domain.BugStatus{domain.BugResolved, domain.BugClosed} {
		t.Run(string(st), func(t *testing.T) {
			store := &fakeStore{}
			m := breach.Monitor{Threshold: time.Second, Store: store}
			b := openBug(st)
			hit, err := m.Check(context.Background(), &b, t0.Add(24*time.Hour))
			require.NoError(t, err)
			assert.False(t, hit)
			assert.False(t, b.Breached)
			assert.Equal(t, 0, store.writes)
		})
	}
}

func TestConcurrentDetectionWritesOnce(t *testing.T) {
	store := &fakeStore{}
	m := breach.Monitor{Threshold: time.Second, Store: store}
	a, b := openBug(domain.BugOpen), openBug(domain.BugOpen)
	now := t0.Add(time.Minute)
	hitA, err := m.Check(context.Background(), &a, now)
	require.NoError(t, err)
	hitB, err := m.Check(context.Background(), &b, now)
	require.NoError(t, err)
	assert.True(t, hitA)
	assert.True(t, hitB)
	assert.Equal(t, 1, store.writes)
}

func TestCheckStoreFailureLeavesFlag(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	m := breach.Monitor{Threshold: time.Second, Store: store}
	b := openBug(domain.BugInProgress)
	hit, err := m.Check(context.Background(), &b, t0.Add(time.Minute))
	require.Error(t, err)
	assert.False(t, hit)
	assert.False(t, b.Breached)
}

func TestPartition(t *testing.T) {
	m := breach.Monitor{Threshold: time.Minute, Store: &fakeStore{}}
	fresh := domain.Bug{ID: 1, Status: domain.BugOpen, LastStatusChange: t0.Add(2 * time.Minute)}
	stale := domain.Bug{ID: 2, Status: domain.BugOpen, LastStatusChange: t0}
	done := domain.Bug{ID: 3, Status: domain.BugClosed, LastStatusChange: t0}
	ok, hit, err := m.Partition(context.Background(), []domain.Bug{fresh, stale, done}, t0.Add(150*time.Second))
	require.NoError(t, err)
	require.Len(t, hit, 1)
	assert.Equal(t, int64(2), hit[0].ID)
	assert.Len(t, ok, 2)
}

func TestDefaultThreshold(t *testing.T) {
	m := breach.Monitor{Store: &fakeStore{}}
	b := openBug(domain.BugOpen)
	hit, err := m.Check(context.Background(), &b, t0.Add(breach.DefaultThreshold+time.Second))
	require.NoError(t, err)
	assert.True(t, hit)
}
