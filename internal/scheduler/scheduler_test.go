package scheduler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/events"
	"github.com/aristath/frontier/internal/modules/artifacts"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/aristath/frontier/internal/modules/universe"
	testingpkg "github.com/aristath/frontier/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu   sync.Mutex
	data []events.EventData
}

func (r *recordingEmitter) EmitTyped(module string, data events.EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, data)
}

func (r *recordingEmitter) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.data))
	for i, d := range r.data {
		out[i] = d.EventType()
	}
	return out
}

type funcJob struct {
	name string
	run  func() error
}

func (j funcJob) Name() string { return j.name }
func (j funcJob) Run() error   { return j.run() }

func TestScheduler_RunNowEmitsLifecycle(t *testing.T) {
	emitter := &recordingEmitter{}
	s := New(emitter, zerolog.Nop())

	require.NoError(t, s.RunNow(funcJob{name: "ok", run: func() error { return nil }}))
	err := s.RunNow(funcJob{name: "bad", run: func() error { return errors.New("boom") }})
	require.EqualError(t, err, "boom")

	assert.Equal(t, []events.EventType{
		events.JobStarted, events.JobCompleted,
		events.JobStarted, events.JobFailed,
	}, emitter.types())
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(nil, zerolog.Nop())
	require.NoError(t, s.AddJob("0 30 22 * * MON-FRI", funcJob{name: "nightly", run: func() error { return nil }}))
	assert.Equal(t, 1, s.Entries())

	assert.Error(t, s.AddJob("not a schedule", funcJob{name: "bad"}))
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := New(nil, zerolog.Nop())
	ran := make(chan struct{}, 10)
	require.NoError(t, s.AddJob("@every 1s", funcJob{name: "tick", run: func() error {
		ran <- struct{}{}
		return nil
	}}))

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

type stubRefresher struct {
	err   error
	calls int
	ctx   context.Context
}

func (s *stubRefresher) Refresh(ctx context.Context) (*snapshot.Snapshot, error) {
	s.calls++
	s.ctx = ctx
	if s.err != nil {
		return nil, s.err
	}
	return &snapshot.Snapshot{Version: "v1", Assets: []string{"A"}}, nil
}

func TestRefreshSnapshotJob(t *testing.T) {
	refresher := &stubRefresher{}
	job := NewRefreshSnapshotJob(refresher, time.Minute, zerolog.Nop())
	assert.Equal(t, "refresh_snapshot", job.Name())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, refresher.calls)
	_, hasDeadline := refresher.ctx.Deadline()
	assert.True(t, hasDeadline)

	refresher.err = errors.New("no prices")
	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prices")
}

func newArtifactsDB(t *testing.T) *database.DB {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "artifacts")
	t.Cleanup(cleanup)
	return db
}

func TestMaintenanceJob_PrunesArtifacts(t *testing.T) {
	db := newArtifactsDB(t)
	store := artifacts.NewSQLiteStore(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	key := artifacts.NewKey(artifacts.KindCovariance, []string{"A", "B"})
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Save(ctx, &artifacts.Artifact{
			Key:       key,
			AsOf:      time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			CreatedAt: time.Date(2024, 1, 1+i, 12, 0, 0, 0, time.UTC),
			Payload:   []byte{byte(i)},
		}))
	}

	emitter := &recordingEmitter{}
	job := NewMaintenanceJob(
		map[string]*database.DB{"artifacts": db},
		store,
		2,
		t.TempDir(),
		emitter,
		zerolog.Nop(),
	)
	assert.Equal(t, "maintenance", job.Name())
	require.NoError(t, job.Run())

	versions, err := store.Versions(ctx, key)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), versions[0].AsOf)
	assert.Equal(t, []events.EventType{events.ArtifactsPruned}, emitter.types())

	// Nothing left to prune, nothing emitted
	require.NoError(t, job.Run())
	assert.Len(t, emitter.types(), 1)
}

func TestMaintenanceJob_VacuumsFragmentedDatabase(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "history")
	t.Cleanup(cleanup)

	conn := db.Conn()
	_, err := conn.Exec(`CREATE TABLE scratch (b BLOB)`)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err := conn.Exec(`INSERT INTO scratch (b) VALUES (zeroblob(4096))`)
		require.NoError(t, err)
	}
	_, err = conn.Exec(`DELETE FROM scratch`)
	require.NoError(t, err)

	before, err := db.GetStats()
	require.NoError(t, err)
	require.Greater(t, before.FreelistCount, int64(0))

	job := NewMaintenanceJob(map[string]*database.DB{"history": db}, nil, 1, "", nil, zerolog.Nop())
	require.NoError(t, job.Run())

	after, err := db.GetStats()
	require.NoError(t, err)
	assert.Zero(t, after.FreelistCount)
	assert.Less(t, after.PageCount, before.PageCount)
}

type stubImporter struct {
	got string
}

func (s *stubImporter) ImportCSV(r io.Reader, opts universe.ImportOptions) (universe.ImportResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return universe.ImportResult{}, err
	}
	s.got = string(b)
	return universe.ImportResult{Rows: 1, Stored: 1, Assets: []string{"A"}}, nil
}

func TestImportPricesJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte("asset_id,date,close\nA,2024-01-01,10\n"), 0o644))

	importer := &stubImporter{}
	emitter := &recordingEmitter{}
	job := NewImportPricesJob(importer, path, universe.ImportOptions{}, emitter, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Contains(t, importer.got, "A,2024-01-01,10")
	assert.Equal(t, []events.EventType{events.PricesImported}, emitter.types())

	missing := NewImportPricesJob(importer, filepath.Join(t.TempDir(), "nope.csv"), universe.ImportOptions{}, nil, zerolog.Nop())
	assert.Error(t, missing.Run())
}
