package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracegarden/community-hub/internal/application/command"
	"github.com/gracegarden/community-hub/internal/application/query"
	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/memory"
	"github.com/gracegarden/community-hub/internal/interface/http/handlers"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

type testServer struct {
	srv   *Server
	store *memory.Store
	clock *timeutil.FixedClock
}

func newTestServer(t *testing.T, repo progression.Repository, mutate ...func(*Config)) *testServer {
	t.Helper()

	store := memory.NewStore()
	if repo == nil {
		repo = store
	}
	clock := timeutil.NewFixedClock(timeutil.MustParseDate("2026-04-01"))
	resolver := progression.NewResolver()

	deps := command.Deps{
		Repository: repo,
		Locker:     memory.NewKeyedLocker(),
		Resolver:   resolver,
		Clock:      clock,
	}
	award := command.NewAwardActivityHandler(deps, command.DefaultConfig())

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", handlers.NewPingCheck(store))

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	for _, m := range mutate {
		m(&cfg)
	}

	srv := NewServer(cfg, Dependencies{
		AwardActivityHandler:  award,
		AwardBatchHandler:     command.NewAwardBatchHandler(award),
		DailyLoginHandler:     command.NewDailyLoginHandler(deps, command.DefaultConfig()),
		GetProgressionHandler: query.NewGetProgressionHandler(repo, resolver, clock, 0, nil),
		Resolver:              resolver,
		Repository:            repo,
		HealthChecker:         checker,
	})
	return &testServer{srv: srv, store: store, clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	var resp JSONResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func dataMap(t *testing.T, resp JSONResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestServer_AwardAndReadProgression(t *testing.T) {
	ts := newTestServer(t, nil)
	userID := shared.GenerateUserID().String()

	rec, resp := ts.do(t, http.MethodPost, "/api/v1/users/"+userID+"/activities",
		AwardRequest{Activity: "testimonial_posted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	delta := dataMap(t, resp)["delta"].(map[string]interface{})
	assert.EqualValues(t, 30, delta["points_awarded"])

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/users/"+userID+"/progression", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	assert.EqualValues(t, 30, data["experience"])
	assert.Equal(t, false, data["is_new"])
	assert.Len(t, data["achievements"], 1)
}

func TestServer_DailyLoginIsIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)
	path := "/api/v1/users/" + shared.GenerateUserID().String() + "/daily-login"

	rec, resp := ts.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataMap(t, resp)["applied"])

	rec, resp = ts.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, dataMap(t, resp)["applied"])

	ts.clock.Advance(1)
	_, resp = ts.do(t, http.MethodPost, path, nil)
	progressionData := dataMap(t, resp)["progression"].(map[string]interface{})
	assert.EqualValues(t, 2, progressionData["current_streak"])
	assert.Equal(t, "2026-04-02", progressionData["last_activity_date"])
}

func TestServer_ErrorMapping(t *testing.T) {
	userID := shared.GenerateUserID().String()

	tests := []struct {
		name   string
		repo   progression.Repository
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "unknown activity",
			method: http.MethodPost,
			path:   "/api/v1/users/" + userID + "/activities",
			body:   AwardRequest{Activity: "juggling"},
			status: http.StatusBadRequest,
			code:   "invalid_activity",
		},
		{
			name:   "bad user id",
			method: http.MethodPost,
			path:   "/api/v1/users/not-a-uuid/daily-login",
			status: http.StatusBadRequest,
			code:   "invalid_user_id",
		},
		{
			name:   "malformed body",
			method: http.MethodPost,
			path:   "/api/v1/users/" + userID + "/activities",
			body:   `{"activity":`,
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "conflict",
			repo:   stubRepo{err: shared.ErrPersistenceConflict},
			method: http.MethodPost,
			path:   "/api/v1/users/" + userID + "/activities",
			body:   AwardRequest{Activity: "comment_posted"},
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "store down",
			repo:   stubRepo{loadErr: errors.New("connection reset")},
			method: http.MethodGet,
			path:   "/api/v1/users/" + userID + "/progression",
			status: http.StatusServiceUnavailable,
			code:   "store_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.repo)
			rec, resp := ts.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t, nil)
	userID := shared.GenerateUserID().String()

	body := map[string]interface{}{
		"items": []map[string]string{
			{"user_id": userID, "activity": "comment_posted"},
			{"user_id": userID, "activity": "nope"},
		},
	}
	rec, resp := ts.do(t, http.MethodPost, "/api/v1/activities/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := dataMap(t, resp)
	assert.EqualValues(t, 2, data["total"])
	assert.EqualValues(t, 1, data["succeeded"])
	assert.EqualValues(t, 1, data["failed"])
	assert.Equal(t, 1, ts.store.Len())
}

func TestServer_CatalogAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, resp := ts.do(t, http.MethodGet, "/api/v1/tiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tiers := dataMap(t, resp)["tiers"].([]interface{})
	assert.Len(t, tiers, 6)

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/achievements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 14)

	rec, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServer_DeleteRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t, nil, func(c *Config) { c.AdminAPIKeys = []string{"s3cret"} })
	userID := shared.GenerateUserID()

	p := progression.NewUserProgression(userID, progression.LevelSeed)
	require.NoError(t, ts.store.Save(context.Background(), p, 0))
	path := "/api/v1/users/" + userID.String() + "/progression"

	rec, _ := ts.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodDelete, path, nil, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, ts.store.Len())

	rec, resp := ts.do(t, http.MethodDelete, path, nil, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, nil, func(c *Config) { c.RateLimitPerMinute = 2 })
	t.Cleanup(ts.srv.rateLimiter.Stop)

	for i := 0; i < 2; i++ {
		rec, _ := ts.do(t, http.MethodGet, "/live", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, resp := ts.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", resp.Error.Code)
}

// stubRepo returns fixed errors.
type stubRepo struct {
	err     error
	loadErr error
}

func (r stubRepo) Load(context.Context, shared.UserID) (*progression.UserProgression, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return nil, shared.ErrProgressionNotFound
}

func (r stubRepo) Save(context.Context, *progression.UserProgression, int64) error {
	return r.err
}

func (r stubRepo) Delete(context.Context, shared.UserID) error {
	return r.err
}
