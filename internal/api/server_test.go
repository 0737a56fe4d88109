package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/provision"
	"github.com/shehryarbajwa/cloud-workstations/internal/proxy"
	"github.com/shehryarbajwa/cloud-workstations/internal/ratelimit"
	"github.com/shehryarbajwa/cloud-workstations/internal/region"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

type provisionerFunc func(ctx context.Context, req models.LaunchRequest) (*models.SessionDescriptor, error)

func (f provisionerFunc) Launch(ctx context.Context, req models.LaunchRequest) (*models.SessionDescriptor, error) {
	return f(ctx, req)
}

func stubProvisioner(t *testing.T) *provision.Manager {
	t.Helper()
	regionMgr, err := region.NewManager([]string{"us-east-1", "eu-central-1"}, "us-east-1", func(region.Region) (region.Backend, error) {
		return region.NewStubBackend("https://workstation.example.com"), nil
	})
	require.NoError(t, err)
	return provision.NewManager(regionMgr, provision.Options{})
}

func newRouter(t *testing.T, p Provisioner, limiter *ratelimit.Limiter) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, provision.RegisterMetrics(reg))

	h := NewHandler(p, nil, "stub", []string{"us-east-1", "eu-central-1"})
	var resolver staticResolver
	return h.SetupRoutes(RouterOptions{
		Catalog:     NewCatalogHandler(catalog.Default()),
		Proxy:       proxy.NewServer(resolver, nil),
		RateLimiter: limiter,
		Gatherer:    reg,
	})
}

type staticResolver map[string]*region.Instance

func (r staticResolver) Lookup(id string) (*region.Instance, bool) {
	inst, ok := r[id]
	return inst, ok
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestLaunchWorkstation(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)

	for _, path := range []string{"/api/workstation/launch", "/v1/workstations"} {
		t.Run(path, func(t *testing.T) {
			rec := post(t, router, path, `{"osIdentifier":"windows"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

			var got models.SessionDescriptor
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, models.OSWindows, got.OSIdentifier)
			assert.Equal(t, "us-east-1", got.Region)
			assert.Equal(t, models.StatusRunning, got.Status)
			assert.Equal(t, "https://workstation.example.com", got.ConnectionURL)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestLaunchAcceptsLegacyFieldAndRegion(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)

	rec := post(t, router, "/api/workstation/launch", `{"osType":"linux","region":"eu-central-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.SessionDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.OSLinux, got.OSIdentifier)
	assert.Equal(t, "eu-central-1", got.Region)
}

func TestLaunchRejectsInvalidRequests(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "empty body", body: ``, wantMsg: "body is required"},
		{name: "not json", body: `osIdentifier=windows`, wantMsg: "not valid JSON"},
		{name: "not an object", body: `"windows"`, wantMsg: "wrong type"},
		{name: "wrong field type", body: `{"osIdentifier":7}`, wantMsg: "osIdentifier has the wrong type"},
		{name: "missing os", body: `{}`, wantMsg: "osIdentifier is required"},
		{name: "unknown os", body: `{"osIdentifier":"beos"}`, wantMsg: "unknown os identifier"},
		{name: "trailing garbage", body: `{"osIdentifier":"mac"}garbage`, wantMsg: "single JSON object"},
		{name: "second object", body: `{"osIdentifier":"mac"} {"osIdentifier":"linux"}`, wantMsg: "single JSON object"},
		{name: "too large", body: `{"osIdentifier":"windows","pad":"` + strings.Repeat("a", maxRequestBytes) + `"}`, wantMsg: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, router, "/api/workstation/launch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			msg := decodeError(t, rec)
			assert.True(t, strings.HasPrefix(msg, "Invalid launch request: "), msg)
			assert.Contains(t, msg, tt.wantMsg)
		})
	}
}

func TestLaunchFailureStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "capacity", err: &provision.Error{Kind: provision.KindCapacityExhausted, Message: "No workstation capacity available, try again shortly"}, wantStatus: http.StatusServiceUnavailable, wantMsg: "No workstation capacity available, try again shortly"},
		{name: "timeout", err: &provision.Error{Kind: provision.KindTimeout, Message: "Timed out waiting for the workstation to start"}, wantStatus: http.StatusGatewayTimeout, wantMsg: "Timed out waiting for the workstation to start"},
		{name: "internal", err: &provision.Error{Kind: provision.KindInternal, Message: "Failed to launch workstation", Err: errors.New("daemon gone")}, wantStatus: http.StatusInternalServerError, wantMsg: "Failed to launch workstation"},
		{name: "unclassified", err: errors.New("secret detail"), wantStatus: http.StatusInternalServerError, wantMsg: "Failed to launch workstation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(t, provisionerFunc(func(context.Context, models.LaunchRequest) (*models.SessionDescriptor, error) {
				return nil, tt.err
			}), nil)

			rec := post(t, router, "/api/workstation/launch", `{"osIdentifier":"mac"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
			assert.NotContains(t, rec.Body.String(), "instanceId")
		})
	}
}

func TestLaunchIsRateLimited(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), ratelimit.NewLimiter(30, 2))

	for i := 0; i < 2; i++ {
		rec := post(t, router, "/api/workstation/launch", `{"osIdentifier":"linux"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := post(t, router, "/api/workstation/launch", `{"osIdentifier":"linux"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, decodeError(t, rec), "Rate limit exceeded")

	// the catalog is not rate limited
	req := httptest.NewRequest(http.MethodGet, "/api/workstation/catalog", nil)
	catalogRec := httptest.NewRecorder()
	router.ServeHTTP(catalogRec, req)
	assert.Equal(t, http.StatusOK, catalogRec.Code)
}

func TestPreflight(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), ratelimit.NewLimiter(1, 1))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/api/workstation/launch", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	}
}

func TestGetCatalog(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workstation/catalog", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []catalog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, models.OSWindows, entries[0].OS)
	assert.Equal(t, models.OSMac, entries[1].OS)
	assert.Equal(t, models.OSLinux, entries[2].OS)
	assert.NotEmpty(t, entries[0].Profile.Specs)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)
	post(t, router, "/api/workstation/launch", `{"osIdentifier":"mac"}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"stub","regions":["us-east-1","eu-central-1"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workstation_launch_total")
}

func TestConnectUnknownWorkstation(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workstation/i-0123/connect", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	router := newRouter(t, stubProvisioner(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workstation/launch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeError(t, rec))
}
