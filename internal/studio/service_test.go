package studio

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/backend"
	bmock "github.com/kiranshivaraju/forge3d/internal/backend/mock"
	"github.com/kiranshivaraju/forge3d/internal/genapi"
	gmock "github.com/kiranshivaraju/forge3d/internal/genapi/mock"
	"github.com/kiranshivaraju/forge3d/internal/poller"
	"github.com/kiranshivaraju/forge3d/internal/store"
	"github.com/kiranshivaraju/forge3d/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStore struct {
	mu   sync.Mutex
	jobs map[string]*models.JobRecord
	err  error
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[string]*models.JobRecord)}
}

func (s *mockStore) Ping(_ context.Context) error { return s.err }

func (s *mockStore) CreateJob(_ context.Context, job *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id, userID string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *mockStore) ListJobs(_ context.Context, f store.JobFilter) ([]*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*models.JobRecord, 0)
	for _, j := range s.jobs {
		if j.UserID != f.UserID || (f.ActiveOnly && j.Status.IsTerminal()) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id string, status models.Status, _ ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status.IsTerminal() && j.Status != status {
		return store.ErrInvalidTransition
	}
	j.Status = status
	return nil
}

func (s *mockStore) RenameJob(_ context.Context, id, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return store.ErrNotFound
	}
	j.Name = name
	return nil
}

func (s *mockStore) DeleteJob(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; !ok || j.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *mockStore) status(id string) models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.Status
	}
	return ""
}

type mockCache struct {
	mu       sync.Mutex
	terminal map[string]models.Job
}

func newMockCache() *mockCache {
	return &mockCache{terminal: make(map[string]models.Job)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetTerminalJob(_ context.Context, job *models.Job, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminal[job.ID] = *job
	return nil
}

func (c *mockCache) GetTerminalJob(_ context.Context, jobID string) (*models.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.terminal[jobID]
	if !ok {
		return nil, false, nil
	}
	return &j, true, nil
}

func (c *mockCache) has(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.terminal[jobID]
	return ok
}

// --- helpers ---

var alice = Identity{UserID: "user-alice", Email: "alice@forge3d.dev", Name: "Alice", Token: "tok-alice", Verified: true}

type fixture struct {
	svc     *Service
	gen     *gmock.Client
	backend *bmock.Client
	store   *mockStore
	cache   *mockCache
}

func newFixture(t *testing.T, gen *gmock.Client, tune ...func(*Options)) *fixture {
	t.Helper()
	if gen == nil {
		gen = &gmock.Client{}
	}
	f := &fixture{gen: gen, backend: &bmock.Client{}, store: newMockStore(), cache: newMockCache()}
	opts := Options{
		Poll: poller.Config{Interval: 10 * time.Millisecond, FailureThreshold: 2, RefreshTimeout: time.Second},
	}
	for _, fn := range tune {
		fn(&opts)
	}
	f.svc = NewService(f.gen, f.backend, f.store, f.cache, opts)
	t.Cleanup(f.svc.Close)
	return f
}

func mustWorkspace(t *testing.T, svc *Service, id Identity) *Workspace {
	t.Helper()
	ws, err := svc.Workspace(context.Background(), id)
	require.NoError(t, err)
	return ws
}

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

// --- submission ---

func TestSubmitText_TracksPollsAndCompletes(t *testing.T) {
	f := newFixture(t, gmock.NewSequenceClient(models.StatusQueued, models.StatusProcessing, models.StatusCompleted))
	ws, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)
	historyBefore := f.backend.HistoryCalls()

	g, err := ws.SubmitText(context.Background(), "  a brass teapot  ")
	require.NoError(t, err)
	assert.Equal(t, "a brass teapot", g.Prompt)
	assert.Equal(t, models.KindTextTo3D, g.Kind)
	assert.Equal(t, models.StatusPending, g.Status)

	require.Eventually(t, func() bool {
		cur, ok := ws.State().Current()
		return ok && cur.Status == models.StatusCompleted
	}, wait, tick)

	cur, _ := ws.State().Current()
	assert.Equal(t, 100.0, cur.Progress.Percent)
	assert.Equal(t, "https://mock.local/"+g.JobID+".glb", cur.ResultURL)

	// registration, mirror, cache and the single post-completion refresh all land
	require.Eventually(t, func() bool { return len(f.backend.Registered()) == 1 }, wait, tick)
	assert.Equal(t, g.JobID, f.backend.Registered()[0].JobID)
	require.Eventually(t, func() bool { return f.store.status(g.JobID) == models.StatusCompleted }, wait, tick)
	require.Eventually(t, func() bool { return f.cache.has(g.JobID) }, wait, tick)
	require.Eventually(t, func() bool { return f.backend.HistoryCalls() == historyBefore+1 }, wait, tick)

	_, active := ws.ActiveJob()
	assert.False(t, active)
}

func TestSubmitText_EmptyPromptRejected(t *testing.T) {
	f := newFixture(t, nil)
	ws := mustWorkspace(t, f.svc, alice)

	_, err := ws.SubmitText(context.Background(), "   ")
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
	_, ok := ws.State().Current()
	assert.False(t, ok)
}

func TestSubmitText_GenerationErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, gmock.NewFailingClient(apierr.ErrNetwork))
	ws := mustWorkspace(t, f.svc, alice)

	_, err := ws.SubmitText(context.Background(), "a chair")
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	_, ok := ws.State().Current()
	assert.False(t, ok)
	assert.Empty(t, f.backend.Registered())
}

func TestSubmit_RegistrationFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.RegisterJobFunc = func(context.Context, string, backend.RegisterJobRequest) error {
		return apierr.ErrNetwork
	}
	ws := mustWorkspace(t, f.svc, alice)

	g, err := ws.SubmitText(context.Background(), "a chair")
	require.NoError(t, err)
	assert.NotEmpty(t, g.JobID)
	require.Eventually(t, func() bool { return len(f.backend.Registered()) == 1 }, wait, tick)
}

func TestSubmitImage_RecordsURL(t *testing.T) {
	f := newFixture(t, nil)
	ws := mustWorkspace(t, f.svc, alice)

	g, err := ws.SubmitImage(context.Background(), genapi.ImageInput{URL: "https://img.local/cat.png"})
	require.NoError(t, err)
	assert.Equal(t, models.KindImageTo3D, g.Kind)
	assert.Equal(t, "https://img.local/cat.png", g.ImageURL)

	_, err = ws.SubmitImage(context.Background(), genapi.ImageInput{})
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
}

func TestSubmit_NewJobSupersedesPreviousPoll(t *testing.T) {
	f := newFixture(t, nil)
	ws := mustWorkspace(t, f.svc, alice)

	first, err := ws.SubmitText(context.Background(), "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.gen.StatusCalls(first.JobID) >= 1 }, wait, tick)

	second, err := ws.SubmitText(context.Background(), "second")
	require.NoError(t, err)

	active, ok := ws.ActiveJob()
	require.True(t, ok)
	assert.Equal(t, second.JobID, active)

	calls := f.gen.StatusCalls(first.JobID)
	require.Eventually(t, func() bool { return f.gen.StatusCalls(second.JobID) >= 3 }, wait, tick)
	assert.LessOrEqual(t, f.gen.StatusCalls(first.JobID), calls+1)

	cur, _ := ws.State().Current()
	assert.Equal(t, second.JobID, cur.JobID)
}

func TestPollErrorsSurfaceAfterThreshold(t *testing.T) {
	f := newFixture(t, &gmock.Client{
		StatusFunc: func(context.Context, string) (*models.Job, error) {
			return nil, errors.Join(apierr.ErrNetwork, errors.New("dial tcp: refused"))
		},
	})
	ws := mustWorkspace(t, f.svc, alice)

	g, err := ws.SubmitText(context.Background(), "a chair")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, _ := ws.State().Current()
		return cur.PollError != ""
	}, wait, tick)

	calls := f.gen.StatusCalls(g.JobID)
	require.Eventually(t, func() bool { return f.gen.StatusCalls(g.JobID) > calls }, wait, tick, "polling continues")
}

// --- reconciliation ---

func TestSignIn_ResumesNonTerminalJobFromHistory(t *testing.T) {
	f := newFixture(t, nil)
	created := time.Now().Add(-time.Minute).UTC()
	f.backend.SetHistory(
		models.HistoryEntry{ID: "done", JobID: "done", Status: models.StatusCompleted, CreatedAt: created.Add(-time.Hour)},
		models.HistoryEntry{ID: "live", JobID: "live", Kind: models.KindTextTo3D, Prompt: "a lamp", Status: models.StatusProcessing, CreatedAt: created},
	)

	ws, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)

	active, ok := ws.ActiveJob()
	require.True(t, ok)
	assert.Equal(t, "live", active)

	cur, ok := ws.State().Current()
	require.True(t, ok)
	assert.Equal(t, "a lamp", cur.Prompt)
	require.Eventually(t, func() bool { return f.gen.StatusCalls("live") >= 1 }, wait, tick)
	assert.Zero(t, f.gen.StatusCalls("done"))
}

func TestSignIn_NoResumeWhenAllTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetHistory(models.HistoryEntry{ID: "a", JobID: "a", Status: models.StatusFailed, CreatedAt: time.Now()})

	ws, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)
	_, active := ws.ActiveJob()
	assert.False(t, active)

	snap := ws.State().Snapshot()
	assert.True(t, snap.HistoryLoaded)
	assert.Len(t, snap.History, 1)
	assert.Equal(t, "alice@forge3d.dev", snap.Session.User.Email)
}

func TestSignIn_AuthFailureCreatesNoWorkspace(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SyncUserFunc = func(context.Context, string, backend.SyncUserRequest) (*models.User, error) {
		return nil, apierr.ErrAuthRequired
	}

	_, err := f.svc.SignIn(context.Background(), alice)
	assert.ErrorIs(t, err, apierr.ErrAuthRequired)
	_, ok := f.svc.Lookup(alice.UserID)
	assert.False(t, ok)
}

func TestSignIn_RejectedTokenOnlyDropsItsOwnSession(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)

	f.backend.SyncUserFunc = func(context.Context, string, backend.SyncUserRequest) (*models.User, error) {
		return nil, apierr.ErrAuthRequired
	}

	other := alice
	other.Token = "tok-someone"
	other.Verified = false
	_, err = f.svc.SignIn(context.Background(), other)
	assert.ErrorIs(t, err, apierr.ErrAuthRequired)
	ws, ok := f.svc.Lookup(alice.UserID)
	require.True(t, ok)
	assert.Equal(t, alice.Token, ws.State().Token())

	_, err = f.svc.SignIn(context.Background(), alice)
	assert.ErrorIs(t, err, apierr.ErrAuthRequired)
	_, ok = f.svc.Lookup(alice.UserID)
	assert.False(t, ok)
}

func TestSignIn_UnverifiedTokenNeedsReachableBackend(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SyncUserFunc = func(context.Context, string, backend.SyncUserRequest) (*models.User, error) {
		return nil, apierr.ErrNetwork
	}

	id := alice
	id.Verified = false
	_, err := f.svc.SignIn(context.Background(), id)
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	_, ok := f.svc.Lookup(alice.UserID)
	assert.False(t, ok)
}

func TestSignIn_BackendDownUsesClaimsAndMirror(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SyncUserFunc = func(context.Context, string, backend.SyncUserRequest) (*models.User, error) {
		return nil, apierr.ErrNetwork
	}
	f.backend.HistoryFunc = func(context.Context, string) ([]models.HistoryEntry, error) {
		return nil, &apierr.ServerError{StatusCode: 503, Message: "maintenance"}
	}
	require.NoError(t, f.store.CreateJob(context.Background(), &models.JobRecord{
		ID: "mirrored", UserID: alice.UserID, Kind: models.KindTextTo3D, Status: models.StatusQueued, CreatedAt: time.Now(),
	}))
	require.NoError(t, f.store.CreateJob(context.Background(), &models.JobRecord{
		ID: "someone-else", UserID: "user-bob", Status: models.StatusQueued, CreatedAt: time.Now(),
	}))

	ws, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)

	snap := ws.State().Snapshot()
	assert.Equal(t, alice.Email, snap.Session.User.Email)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "mirrored", snap.History[0].JobID)

	active, ok := ws.ActiveJob()
	require.True(t, ok)
	assert.Equal(t, "mirrored", active)
}

func TestRefreshHistory_AuthErrorHasNoFallback(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.HistoryFunc = func(context.Context, string) ([]models.HistoryEntry, error) {
		return nil, apierr.ErrAuthRequired
	}
	ws := mustWorkspace(t, f.svc, alice)

	err := ws.RefreshHistory(context.Background())
	assert.ErrorIs(t, err, apierr.ErrAuthRequired)
	_, loaded := ws.State().History()
	assert.False(t, loaded)
}

func TestOpen_LoadsOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Open(context.Background(), alice)
	require.NoError(t, err)
	_, err = f.svc.Open(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.HistoryCalls())
}

// --- identity binding ---

func TestWorkspace_UnverifiedTokenRejectedByBackend(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetHistory(models.HistoryEntry{ID: "secret", JobID: "secret", Prompt: "private", Status: models.StatusCompleted, CreatedAt: time.Now()})
	_, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)

	f.backend.MeFunc = func(_ context.Context, token string) (*models.User, error) {
		if token == "forged" {
			return nil, apierr.ErrAuthRequired
		}
		return &models.User{ID: alice.UserID}, nil
	}
	forged := Identity{UserID: alice.UserID, Token: "forged"}

	_, err = f.svc.Workspace(context.Background(), forged)
	assert.ErrorIs(t, err, apierr.ErrAuthRequired)
	_, err = f.svc.Open(context.Background(), forged)
	assert.ErrorIs(t, err, apierr.ErrAuthRequired)
	assert.ErrorIs(t, f.svc.SignOut(context.Background(), forged), apierr.ErrAuthRequired)

	ws, ok := f.svc.Lookup(alice.UserID)
	require.True(t, ok)
	assert.Equal(t, alice.Token, ws.State().Token())
	assert.True(t, ws.State().Snapshot().Session.SignedIn)
}

func TestWorkspace_UnverifiedTokenAcceptedByBackendIsBound(t *testing.T) {
	f := newFixture(t, nil)
	mustWorkspace(t, f.svc, alice)

	rotated := Identity{UserID: alice.UserID, Token: "tok-alice-2"}
	ws := mustWorkspace(t, f.svc, rotated)
	assert.Equal(t, "tok-alice-2", ws.State().Token())
	assert.Equal(t, 1, f.backend.MeCalls())

	// the bound token is not checked again
	mustWorkspace(t, f.svc, rotated)
	assert.Equal(t, 1, f.backend.MeCalls())
}

// --- idle eviction ---

func TestIdleWorkspaceIsEvictedAndStopsPolling(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.IdleTTL = 40 * time.Millisecond })
	ws := mustWorkspace(t, f.svc, alice)

	g, err := ws.SubmitText(context.Background(), "a chair")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.gen.StatusCalls(g.JobID) >= 1 }, wait, tick)

	require.Eventually(t, func() bool {
		_, ok := f.svc.Lookup(alice.UserID)
		return !ok
	}, wait, tick)
	_, active := ws.ActiveJob()
	assert.False(t, active)

	calls := f.gen.StatusCalls(g.JobID)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, f.gen.StatusCalls(g.JobID))
}

func TestOpenStreamKeepsWorkspaceAlive(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.IdleTTL = 30 * time.Millisecond })
	ws := mustWorkspace(t, f.svc, alice)

	_, unsubscribe := ws.Subscribe()
	time.Sleep(150 * time.Millisecond)
	_, ok := f.svc.Lookup(alice.UserID)
	assert.True(t, ok)

	unsubscribe()
	require.Eventually(t, func() bool {
		_, ok := f.svc.Lookup(alice.UserID)
		return !ok
	}, wait, tick)
}

// --- status / cancel ---

// ownedWorkspace returns alice's workspace with jobIDs in its history,
// without resuming any of them.
func ownedWorkspace(t *testing.T, f *fixture, jobIDs ...string) *Workspace {
	t.Helper()
	entries := make([]models.HistoryEntry, 0, len(jobIDs))
	for _, id := range jobIDs {
		entries = append(entries, models.HistoryEntry{ID: id, JobID: id, Status: models.StatusProcessing, CreatedAt: time.Now()})
	}
	f.backend.SetHistory(entries...)
	ws := mustWorkspace(t, f.svc, alice)
	require.NoError(t, ws.RefreshHistory(context.Background()))
	return ws
}

func TestJobStatus_TerminalServedFromCache(t *testing.T) {
	f := newFixture(t, gmock.NewSequenceClient(models.StatusFailed))
	ws := ownedWorkspace(t, f, "j1")

	job, err := ws.JobStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.True(t, f.cache.has("j1"))

	job, err = ws.JobStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 1, f.gen.StatusCalls("j1"))
}

func TestJobStatus_NonTerminalNotCached(t *testing.T) {
	f := newFixture(t, nil)
	ws := ownedWorkspace(t, f, "j1")

	_, err := ws.JobStatus(context.Background(), "j1")
	require.NoError(t, err)
	_, err = ws.JobStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.gen.StatusCalls("j1"))
	assert.False(t, f.cache.has("j1"))
}

func TestCancel_SurfacesErrors(t *testing.T) {
	f := newFixture(t, &gmock.Client{
		CancelFunc: func(context.Context, string) error { return apierr.ErrNotFound },
	})

	ws := ownedWorkspace(t, f, "gone")

	assert.ErrorIs(t, ws.Cancel(context.Background(), "gone"), apierr.ErrNotFound)
	assert.ErrorIs(t, ws.Cancel(context.Background(), ""), apierr.ErrInvalidInput)
	assert.Equal(t, []string{"gone"}, f.gen.Cancelled())
}

func TestJobStatusAndCancel_ForeignJobIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.CreateJob(context.Background(), &models.JobRecord{
		ID: "bobs-job", UserID: "user-bob", Status: models.StatusQueued, CreatedAt: time.Now(),
	}))
	ws := ownedWorkspace(t, f, "mine")

	_, err := ws.JobStatus(context.Background(), "bobs-job")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.ErrorIs(t, ws.Cancel(context.Background(), "bobs-job"), apierr.ErrNotFound)
	assert.Zero(t, f.gen.StatusCalls("bobs-job"))
	assert.Empty(t, f.gen.Cancelled())
}

func TestJobStatus_MirroredOrLaterRegisteredJobIsOwned(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.CreateJob(context.Background(), &models.JobRecord{
		ID: "mirrored", UserID: alice.UserID, Status: models.StatusQueued, CreatedAt: time.Now(),
	}))
	ws := ownedWorkspace(t, f, "mine")

	_, err := ws.JobStatus(context.Background(), "mirrored")
	require.NoError(t, err)

	// registered from elsewhere after the last history fetch
	f.backend.SetHistory(
		models.HistoryEntry{ID: "mine", JobID: "mine", Status: models.StatusCompleted, CreatedAt: time.Now()},
		models.HistoryEntry{ID: "late", JobID: "late", Status: models.StatusQueued, CreatedAt: time.Now()},
	)
	_, err = ws.JobStatus(context.Background(), "late")
	require.NoError(t, err)
}

// --- history mutations ---

func TestDeleteJob_StopsPollingAndRefreshes(t *testing.T) {
	f := newFixture(t, nil)
	ws := mustWorkspace(t, f.svc, alice)

	g, err := ws.SubmitText(context.Background(), "a chair")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.backend.Registered()) == 1 }, wait, tick)
	calls := f.backend.HistoryCalls()

	require.NoError(t, ws.DeleteJob(context.Background(), g.JobID))

	_, active := ws.ActiveJob()
	assert.False(t, active)
	_, ok := ws.State().Current()
	assert.False(t, ok)
	assert.Equal(t, calls+1, f.backend.HistoryCalls())

	hist, _ := ws.State().History()
	assert.Empty(t, hist)
	_, err = f.store.GetJob(context.Background(), g.JobID, alice.UserID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteJob_ErrorSkipsRefresh(t *testing.T) {
	f := newFixture(t, nil)
	ws := mustWorkspace(t, f.svc, alice)

	err := ws.DeleteJob(context.Background(), "missing")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Zero(t, f.backend.HistoryCalls())
}

func TestRenameJob_Refreshes(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.SetHistory(models.HistoryEntry{ID: "a", JobID: "a", Status: models.StatusCompleted, CreatedAt: time.Now()})
	ws := mustWorkspace(t, f.svc, alice)

	require.NoError(t, ws.RenameJob(context.Background(), "a", "Teapot"))

	hist, loaded := ws.State().History()
	require.True(t, loaded)
	assert.Equal(t, "Teapot", hist[0].Name)
}

// --- early access / session ---

func TestRequestEarlyAccess_AlreadyExistsRefreshesAccount(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.RequestEarlyAccessFunc = func(context.Context, string, string) error {
		return apierr.ErrAlreadyExists
	}
	f.backend.MeFunc = func(context.Context, string) (*models.User, error) {
		return &models.User{ID: alice.UserID, Email: alice.Email, EarlyAccess: true}, nil
	}
	ws := mustWorkspace(t, f.svc, alice)

	id := alice
	err := f.svc.RequestEarlyAccess(context.Background(), &id, alice.Email)
	assert.ErrorIs(t, err, apierr.ErrAlreadyExists)
	assert.Equal(t, 1, f.backend.MeCalls())
	assert.True(t, ws.State().Snapshot().Session.User.EarlyAccess)
}

func TestRequestEarlyAccess_Anonymous(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.svc.RequestEarlyAccess(context.Background(), nil, "new@forge3d.dev"))
	assert.ErrorIs(t, f.svc.RequestEarlyAccess(context.Background(), nil, "not-an-email"), apierr.ErrInvalidInput)
	assert.Zero(t, f.backend.MeCalls())
}

func TestSignOut_StopsAndClears(t *testing.T) {
	f := newFixture(t, nil)
	ws, err := f.svc.SignIn(context.Background(), alice)
	require.NoError(t, err)
	g, err := ws.SubmitText(context.Background(), "a chair")
	require.NoError(t, err)

	require.NoError(t, f.svc.SignOut(context.Background(), alice))

	_, active := ws.ActiveJob()
	assert.False(t, active)
	snap := ws.State().Snapshot()
	assert.False(t, snap.Session.SignedIn)
	assert.Nil(t, snap.Current)

	time.Sleep(20 * time.Millisecond)
	calls := f.gen.StatusCalls(g.JobID)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, f.gen.StatusCalls(g.JobID))

	_, ok := f.svc.Lookup(alice.UserID)
	assert.False(t, ok)
}

func TestWorkspace_TokenRotation(t *testing.T) {
	f := newFixture(t, nil)
	ws := mustWorkspace(t, f.svc, alice)

	rotated := alice
	rotated.Token = "tok-alice-2"
	same := mustWorkspace(t, f.svc, rotated)

	assert.Same(t, ws, same)
	assert.Equal(t, "tok-alice-2", ws.State().Token())
}
