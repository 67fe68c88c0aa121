package approval

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atlas-grants/atlas-grants/internal/rbac"
	"github.com/atlas-grants/atlas-grants/internal/shared"
)

func newHandlerFixture(t *testing.T) (*fixture, chi.Router, *shared.SessionManager) {
	t.Helper()
	fx := newFixture(t)
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Directory: fx.directory, Logger: logger}
	handler := NewHandler(logger, fx.service, mw, nil)

	router := chi.NewRouter()
	router.Route("/approvals", handler.MountRoutes)
	return fx, router, sessionManager
}

// serveAs issues a request carrying a session for the given user id. An empty
// id leaves the session anonymous.
func serveAs(t *testing.T, router chi.Router, sm *shared.SessionManager, userID, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	if userID != "" {
		sess.SetUser(userID)
	}
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestReadRoutesRequireAuthentication(t *testing.T) {
	fx, router, sm := newHandlerFixture(t)

	a, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, program)
	require.NoError(t, err)

	for _, path := range []string{
		"/approvals/",
		"/approvals/pending",
		"/approvals/" + a.ID.String(),
	} {
		res := serveAs(t, router, sm, "", http.MethodGet, path)
		require.Equal(t, http.StatusUnauthorized, res.Code, "GET %s", path)
		require.NotContains(t, res.Body.String(), a.ID.String())
	}
}

func TestReadRoutesServeAuthenticatedUsers(t *testing.T) {
	fx, router, sm := newHandlerFixture(t)

	a, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, program)
	require.NoError(t, err)

	res := serveAs(t, router, sm, "2", http.MethodGet, "/approvals/"+a.ID.String())
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"state":"SUBMITTED"`)

	res = serveAs(t, router, sm, "2", http.MethodGet, "/approvals/pending")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), a.ID.String())
}

func TestSubmitRouteEnforcesRole(t *testing.T) {
	_, router, sm := newHandlerFixture(t)

	// Frank is FINANCE; submission is reserved for PROGRAM and DIRECTOR.
	res := serveAs(t, router, sm, "2", http.MethodPost, "/approvals/")
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestListAcceptsRepeatedStateParams(t *testing.T) {
	fx, router, sm := newHandlerFixture(t)

	submitted, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, program)
	require.NoError(t, err)

	rejected, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(9000),
	}, program)
	require.NoError(t, err)
	_, err = fx.service.Reject(context.Background(), rejected.ID, "duplicate request", finance)
	require.NoError(t, err)

	autoApproved, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(1050),
	}, program)
	require.NoError(t, err)

	res := serveAs(t, router, sm, "2", http.MethodGet, "/approvals/?state=SUBMITTED&state=REJECTED")
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	require.Contains(t, body, submitted.ID.String())
	require.Contains(t, body, rejected.ID.String())
	require.NotContains(t, body, autoApproved.ID.String())
}
