package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filebridge/filebridge/pkg/api/handlers"
	"github.com/filebridge/filebridge/pkg/store"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return NewRouter(Deps{
		Store: st,
		Run: func() handlers.RunInfo {
			return handlers.RunInfo{State: "running", Listeners: []string{"http"}}
		},
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterHealthEndpoints(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestRouterRootRedirectsToHealth(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, "GET", "/", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/health", w.Header().Get("Location"))
}

func TestRouterMetricsAbsentWhenDisabled(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterSettingsRoundTrip(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, "PUT", "/api/settings/site_title", map[string]string{"value": "bridge"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/settings/site_title", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "site_title", resp.Data.Key)
	assert.Equal(t, "bridge", resp.Data.Value)

	w = doJSON(t, router, "GET", "/api/settings/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterMountLifecycle(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, "POST", "/api/mounts", map[string]any{
		"path":   "/data/media",
		"driver": "local",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, "POST", "/api/mounts", map[string]any{"driver": "local"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing path must be rejected")

	w = doJSON(t, router, "GET", "/api/mounts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.Count)

	w = doJSON(t, router, "DELETE", "/api/mounts/data/media", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "DELETE", "/api/mounts/data/media", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
