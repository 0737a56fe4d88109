package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/client"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

func newTestServer(t *testing.T, launch http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(client.LaunchPath, launch)
	mux.HandleFunc(client.CatalogPath, func(w http.ResponseWriter, r *http.Request) {
		c := catalog.Catalog{models.OSLinux: {Name: "Ubuntu Desktop"}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Entries())
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestLaunchPrintsSession(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.LaunchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.OSLinux, req.OSIdentifier)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.SessionDescriptor{
			InstanceID:    "ws-42",
			OSIdentifier:  models.OSLinux,
			Region:        "us-east-1",
			Status:        models.StatusRunning,
			ConnectionURL: "https://ws-42.example.com",
		})
	})

	stdout, _, err := execute(t, "--server", srv.URL, "launch", "linux")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Ubuntu Desktop workstation is ready")
	assert.Contains(t, stdout, "ws-42")
	assert.Contains(t, stdout, "https://ws-42.example.com")
}

func TestLaunchFailureExitsWithError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"No capacity in us-east-1"}`))
	})

	_, stderr, err := execute(t, "--server", srv.URL, "launch", "linux")
	assert.ErrorIs(t, err, errLaunchFailed)
	assert.Contains(t, stderr, "No capacity in us-east-1")
}

func TestLaunchRejectsUnknownOS(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unknown OS")
	})

	_, _, err := execute(t, "--server", srv.URL, "launch", "beos")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errLaunchFailed)
}

func TestCatalogFallsBackToBuiltIn(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	stdout, _, err := execute(t, "--server", srv.URL, "catalog")
	require.NoError(t, err)

	for _, e := range catalog.Default().Entries() {
		assert.Contains(t, stdout, e.Profile.Name)
	}
}
