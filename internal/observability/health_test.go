package observability

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func getHealthz(t *testing.T, h *HealthChecker) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	return rec.Code, rec.Body.String()
}

func TestHealthz_Components(t *testing.T) {
	h := NewHealthChecker(nil)

	code, body := getHealthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	h.SetComponentReady(ComponentKafka, false)
	h.SetComponentReady(ComponentBroker, false)
	code, body = getHealthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT_READY broker kafka", body)

	h.SetComponentReady(ComponentKafka, true)
	h.SetComponentReady(ComponentBroker, true)
	code, _ = getHealthz(t, h)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthz_Shutdown(t *testing.T) {
	h := NewHealthChecker(nil)
	require.NoError(t, h.Shutdown(context.Background()))

	code, _ := getHealthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestJSONHandler(t *testing.T) {
	h := NewHealthChecker(nil)
	h.Handle("/ledger", JSONHandler(func() any {
		return map[string][]int{"FTSE": {1, 2}}
	}))

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"FTSE": [1, 2]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGRPCHealth_FollowsReadiness(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := NewHealthChecker(nil)
	srv := grpc.NewServer()
	h.RegisterGRPC(srv)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	h.SetComponentReady(ComponentKafka, false)
	resp, err = client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)
}
