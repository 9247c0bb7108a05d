package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/tests"
)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string][]Record
	err     error
	queries []Query
}

var _ SecondaryStore = (*fakeStore)(nil)

func (s *fakeStore) Query(_ context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	var out []Record
	for _, rec := range s.docs[q.Collection] {
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	if q.OrderBy != nil {
		SortRecords(out, *q.OrderBy)
	}
	return out, nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// respond writes a fixed status and body.
func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newServer(t *testing.T, h http.Handler) string {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

type orchestratorFixture struct {
	orc    *Orchestrator
	store  *fakeStore
	logger *testutil.Logger
}

func newOrchestratorFixture(t *testing.T, tokens TokenProvider, candidates ...string) orchestratorFixture {
	if tokens == nil {
		tokens = StaticToken("tok")
	}
	logger := testutil.NewLogger()
	store := &fakeStore{docs: map[string][]Record{
		"jobs": {
			{"id": "j1", "title": "Backend", "status": "open", "createdAt": "2024-01-01T00:00:00Z"},
			{"id": "j2", "title": "Frontend", "status": "closed", "createdAt": "2024-02-01T00:00:00Z"},
		},
		"jobApplications": {
			{"id": "a1", "jobId": "j1", "userId": "u1"},
			{"id": "a2", "jobId": "j2", "userId": "u2"},
		},
	}}
	exec := NewExecutor(ExecutorOptions{
		Tokens:     tokens,
		Timeout:    100 * time.Millisecond,
		MaxRetries: 2,
		Backoff:    NoBackoff,
		Logger:     logger,
	})
	orc := NewOrchestrator(OrchestratorOptions{
		Endpoints: Endpoints{ServiceAPI: candidates},
		Executor:  exec,
		Tokens:    tokens,
		Store:     store,
		Logger:    logger,
	})
	return orchestratorFixture{orc: orc, store: store, logger: logger}
}

func recordIDs(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID())
	}
	return ids
}

func TestOrchestrator_FetchResource_slowPrimaryThenFallbackCandidate(t *testing.T) {
	var xHits int32
	x := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&xHits, 1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	y := newServer(t, respond(http.StatusOK, `{"success": true, "data": [{"id": "1"}]}`))

	fx := newOrchestratorFixture(t, nil, x, y)
	res := fx.orc.FetchResource(context.Background(), "jobs", nil)

	require.NoError(t, res.Err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, ShapeSuccessData, res.Shape)
	assert.Equal(t, []string{"1"}, recordIDs(res.Records))
	assert.Equal(t, int32(3), atomic.LoadInt32(&xHits))
	assert.Equal(t, []Attempt{
		{Candidate: x, Outcome: KindServer.String(), Retries: 2},
		{Candidate: y, Outcome: "success"},
	}, res.Attempts)
	assert.Zero(t, fx.store.calls())
	assert.False(t, res.Degraded())
}

func TestOrchestrator_FetchResource_fallsBackToStore(t *testing.T) {
	down := newServer(t, respond(http.StatusServiceUnavailable, ""))

	fx := newOrchestratorFixture(t, nil, down, down)
	res := fx.orc.FetchResource(context.Background(), "jobApplications", Params{"userId": "u1"})

	require.NoError(t, res.Err)
	assert.Equal(t, SourceSecondary, res.Source)
	assert.Equal(t, ShapeStore, res.Shape)
	assert.Equal(t, []string{"a1"}, recordIDs(res.Records))
	assert.True(t, res.Degraded())
	assert.Len(t, res.Attempts, 2)

	require.Equal(t, 1, fx.store.calls())
	assert.Equal(t, []Predicate{Eq("userId", "u1")}, fx.store.queries[0].Where)
	assert.True(t, fx.logger.Contains("warn", "served from secondary store"))
}

func TestOrchestrator_FetchResource_storeOrdersRecords(t *testing.T) {
	down := newServer(t, respond(http.StatusBadGateway, ""))

	fx := newOrchestratorFixture(t, nil, down)
	res := fx.orc.FetchResource(context.Background(), "jobs", nil)

	assert.Equal(t, []string{"j2", "j1"}, recordIDs(res.Records), "jobs are newest first")
}

func TestOrchestrator_FetchResource_everythingFails(t *testing.T) {
	down := newServer(t, respond(http.StatusServiceUnavailable, ""))

	fx := newOrchestratorFixture(t, nil, down)
	fx.store.err = errors.New("connection refused")
	res := fx.orc.FetchResource(context.Background(), "jobs", nil)

	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	assert.Equal(t, SourceNone, res.Source)

	var failed *FetchFailedError
	require.True(t, errors.As(res.Err, &failed))
	var sErr *SecondaryStoreError
	assert.True(t, errors.As(failed.Secondary, &sErr))
	var nErr *AllCandidatesFailedError
	assert.True(t, errors.As(failed.Network, &nErr))
	assert.True(t, fx.logger.Contains("error", "fetch failed"))
}

func TestOrchestrator_FetchResource_noCandidates(t *testing.T) {
	fx := newOrchestratorFixture(t, nil)
	res := fx.orc.FetchResource(context.Background(), "jobs", nil)

	assert.Equal(t, SourceSecondary, res.Source)
	assert.Len(t, res.Records, 2)
	assert.Empty(t, res.Attempts)
}

func TestOrchestrator_FetchResource_normalizationFailureIsTerminal(t *testing.T) {
	payloads := []string{
		`{"success": false, "message": "maintenance"}`,
		`{"items": []}`,
		`<html>oops</html>`,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			srv := newServer(t, respond(http.StatusOK, payload))
			next := newServer(t, respond(http.StatusOK, `[{"id": "should-not-be-used"}]`))

			fx := newOrchestratorFixture(t, nil, srv, next)
			res := fx.orc.FetchResource(context.Background(), "jobs", nil)

			var nErr *NormalizationError
			require.True(t, errors.As(res.Err, &nErr))
			assert.Empty(t, res.Records)
			assert.Equal(t, SourceNone, res.Source)
			assert.Zero(t, fx.store.calls())
			assert.True(t, fx.logger.Contains("error", payload), "the raw payload must be logged")
		})
	}
}

func TestOrchestrator_FetchResource_refreshesTokenOnce(t *testing.T) {
	authServer := func(valid string) string {
		return newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+valid {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"jobs": [{"id": "j1"}]}`))
		}))
	}

	t.Run("refreshed token succeeds", func(t *testing.T) {
		var issued int32
		tokens := NewRefreshingTokenSource(func(context.Context) (string, error) {
			if atomic.AddInt32(&issued, 1) == 1 {
				return "expired", nil
			}
			return "fresh", nil
		}, 0, time.Hour)

		fx := newOrchestratorFixture(t, tokens, authServer("fresh"))
		res := fx.orc.FetchResource(context.Background(), "jobs", nil)

		require.NoError(t, res.Err)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Equal(t, ShapeDomainKey, res.Shape)
		assert.Equal(t, int32(2), atomic.LoadInt32(&issued))
		assert.Equal(t, []Attempt{
			{Candidate: res.Attempts[0].Candidate, Outcome: KindAuth.String()},
			{Candidate: res.Attempts[0].Candidate, Outcome: "success"},
		}, res.Attempts)
	})

	t.Run("still unauthorized after refresh", func(t *testing.T) {
		var issued int32
		tokens := NewRefreshingTokenSource(func(context.Context) (string, error) {
			atomic.AddInt32(&issued, 1)
			return "never-valid", nil
		}, 0, time.Hour)

		fx := newOrchestratorFixture(t, tokens, authServer("other"), authServer("other"))
		res := fx.orc.FetchResource(context.Background(), "jobs", nil)

		assert.Equal(t, SourceSecondary, res.Source)
		assert.Equal(t, int32(2), atomic.LoadInt32(&issued), "exactly one refresh")
		assert.Len(t, res.Attempts, 4)
	})

	t.Run("static tokens are not refreshed", func(t *testing.T) {
		fx := newOrchestratorFixture(t, StaticToken("nope"), authServer("other"))
		res := fx.orc.FetchResource(context.Background(), "jobs", nil)

		assert.Equal(t, SourceSecondary, res.Source)
		assert.Len(t, res.Attempts, 1)
	})
}

func TestOrchestrator_FetchResource_canceledSkipsStore(t *testing.T) {
	srv := newServer(t, respond(http.StatusOK, `[]`))
	fx := newOrchestratorFixture(t, nil, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := fx.orc.FetchResource(ctx, "jobs", nil)

	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Empty(t, res.Records)
	assert.Zero(t, fx.store.calls())
}

func TestOrchestrator_FetchResource_unknownResource(t *testing.T) {
	fx := newOrchestratorFixture(t, nil, "http://unused")
	res := fx.orc.FetchResource(context.Background(), "nope", nil)

	assert.True(t, errors.Is(res.Err, ErrUnknownResource))
	assert.NotNil(t, res.Records)
}

func TestOrchestrator_FetchResource_newerFetchSupersedes(t *testing.T) {
	arrived := make(chan struct{})
	var hits int32
	srv := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			close(arrived)
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`[{"id": "fresh"}]`))
	}))

	fx := newOrchestratorFixture(t, nil, srv)
	fx.orc.exec.timeout = 5 * time.Second

	ctx := WithScope(context.Background(), "u1")
	first := make(chan Result, 1)
	go func() {
		first <- fx.orc.FetchResource(ctx, "jobs", Params{"status": "open"})
	}()
	<-arrived

	second := fx.orc.FetchResource(ctx, "jobs", Params{"status": "open"})
	require.NoError(t, second.Err)
	assert.Equal(t, []string{"fresh"}, recordIDs(second.Records))

	stale := <-first
	assert.True(t, stale.Stale)
	assert.True(t, errors.Is(stale.Err, ErrStale))
	assert.Empty(t, stale.Records)
	assert.Zero(t, fx.store.calls(), "a superseded fetch must not fall back")
	assert.Zero(t, fx.orc.gens.size())
}

func TestOrchestrator_FetchResource_differentParamsDoNotInterfere(t *testing.T) {
	srv := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		_, _ = w.Write([]byte(`{"success": true, "applications": [{"id": "` + user + `-app"}]}`))
	}))
	fx := newOrchestratorFixture(t, nil, srv)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			results[i] = fx.orc.FetchResource(context.Background(), "jobApplications", Params{"userId": user})
		}(i, user)
	}
	wg.Wait()

	assert.Equal(t, []string{"u1-app"}, recordIDs(results[0].Records))
	assert.Equal(t, []string{"u2-app"}, recordIDs(results[1].Records))
	assert.False(t, results[0].Stale || results[1].Stale)
}

// slowJobs answers the jobs listing after `delay`, signalling each arrival on `arrived`.
func slowJobs(delay time.Duration, arrived chan<- struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
		_, _ = w.Write([]byte(`{"success": true, "jobs": [{"id": "j1"}]}`))
	}
}

func TestOrchestrator_FetchResource_scopesDoNotSupersedeEachOther(t *testing.T) {
	arrived := make(chan struct{}, 2)
	srv := newServer(t, slowJobs(150*time.Millisecond, arrived))
	fx := newOrchestratorFixture(t, nil, srv)
	fx.orc.exec.timeout = 5 * time.Second

	alice := make(chan Result, 1)
	go func() {
		alice <- fx.orc.FetchResource(WithScope(context.Background(), "alice"), "jobs", nil)
	}()
	<-arrived

	bob := fx.orc.FetchResource(WithScope(context.Background(), "bob"), "jobs", nil)
	require.NoError(t, bob.Err)
	assert.Equal(t, []string{"j1"}, recordIDs(bob.Records))

	res := <-alice
	require.NoError(t, res.Err)
	assert.False(t, res.Stale, "another caller's fetch must not supersede this one")
	assert.Equal(t, []string{"j1"}, recordIDs(res.Records))
	assert.Zero(t, fx.orc.gens.size())
}

func TestOrchestrator_FetchResource_unscopedFetchesAreNeverSuperseded(t *testing.T) {
	arrived := make(chan struct{}, 2)
	srv := newServer(t, slowJobs(150*time.Millisecond, arrived))
	fx := newOrchestratorFixture(t, nil, srv)
	fx.orc.exec.timeout = 5 * time.Second

	first := make(chan Result, 1)
	go func() {
		first <- fx.orc.FetchResource(context.Background(), "jobs", nil)
	}()
	<-arrived

	second := fx.orc.FetchResource(context.Background(), "jobs", nil)
	require.NoError(t, second.Err)

	res := <-first
	require.NoError(t, res.Err)
	assert.False(t, res.Stale)
	assert.Equal(t, []string{"j1"}, recordIDs(res.Records))
	assert.Zero(t, fx.orc.gens.size(), "unscoped fetches are not tracked")
}

func TestOrchestrator_FetchResource_emptyNetworkAnswerIsAuthoritative(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantShape Shape
	}{
		{name: "success+data", body: `{"success": true, "data": []}`, wantShape: ShapeSuccessData},
		{name: "array", body: `[]`, wantShape: ShapeArray},
		{name: "success+domain-key", body: `{"success": true, "jobs": []}`, wantShape: ShapeSuccessDomainKey},
		{name: "domain-key", body: `{"jobs": []}`, wantShape: ShapeDomainKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newOrchestratorFixture(t, nil, newServer(t, respond(http.StatusOK, tt.body)))

			res := fx.orc.FetchResource(context.Background(), "jobs", nil)
			require.NoError(t, res.Err)
			assert.Equal(t, SourceNetwork, res.Source)
			assert.Equal(t, tt.wantShape, res.Shape)
			assert.NotNil(t, res.Records)
			assert.Empty(t, res.Records)
			assert.False(t, res.Degraded())
			assert.Zero(t, fx.store.calls(), "an empty answer must not fall back to the store")
		})
	}
}
