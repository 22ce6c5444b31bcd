package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/pool/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is a clock pinned one hour into a settable week.
type testClock struct {
	mu    sync.Mutex
	start time.Time
	week  pool.Week
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.week-1)*7*24*time.Hour + time.Hour)
}

func (c *testClock) set(w pool.Week) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.week = w
}

func testConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Roster = pool.Roster{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
		{ID: "dave", Name: "Dave"},
	}
	cfg.TargetSharePerCollaborator = 3
	return cfg
}

type testEnv struct {
	handler *Handler
	router  *chi.Mux
	clock   *testClock
	store   *store.Memory
}

func newTestEnv(t *testing.T, cfg pool.Config, week pool.Week) *testEnv {
	t.Helper()
	clock := &testClock{start: cfg.StartDate, week: week}
	mem := store.NewMemory()

	engine, err := pool.NewEngine(mem, cfg,
		pool.WithClock(clock.now),
		pool.WithRetryDelay(0),
		pool.WithLogger(logging.Nop()),
	)
	require.NoError(t, err)
	_, err = engine.Bootstrap(context.Background())
	require.NoError(t, err)

	h := NewHandler(engine, mem, "USD", logging.Nop())
	h.Closer = NewWeekCloser(engine, logging.Nop())
	return &testEnv{handler: h, router: NewRouter(h), clock: clock, store: mem}
}

// do sends a request through the router. body may be nil, a raw string or
// a value to encode as JSON; actor sets the identity header when non-empty.
func (env *testEnv) do(t *testing.T, method, path string, body any, actor string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
}

func pay(t *testing.T, env *testEnv, actor string, week int, amount string) EntryDTO {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/entries", map[string]any{"week": week, "amount": amount}, actor)
	requireStatus(t, rec, http.StatusCreated)
	return decode[EntryDTO](t, rec)
}
