package modules

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

func webRegistry(t *testing.T, endpoint string) Module {
	t.Helper()
	reg := DefaultRegistry(CatalogConfig{
		APIKey:    "test-key",
		Endpoints: map[types.ModuleID]string{types.ModuleWeb: endpoint},
	})
	m := reg.Get(types.ModuleWeb)
	require.NotNil(t, m)
	return m
}

func TestDefaultRegistryRegistersCatalog(t *testing.T) {
	reg := DefaultRegistry(CatalogConfig{})
	assert.Equal(t, types.AllModules(), reg.IDs())
	for _, info := range reg.List() {
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.Description)
	}
}

func TestHTTPSourceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Topic  string         `json:"topic"`
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "oat milk", req.Topic)
		assert.Equal(t, float64(10), req.Params["max_web_results"])

		json.NewEncoder(w).Encode(map[string]any{"report_markdown": "## Web findings"})
	}))
	defer srv.Close()

	payload, err := webRegistry(t, srv.URL).Execute(context.Background(), "oat milk",
		map[string]any{"max_web_results": float64(10)})
	require.NoError(t, err)
	assert.Equal(t, "## Web findings", types.PayloadText(payload))
}

func TestHTTPSourceResultField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": "plain result text"})
	}))
	defer srv.Close()

	payload, err := webRegistry(t, srv.URL).Execute(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain result text", types.PayloadText(payload))
}

func TestHTTPSourceRawTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# Not JSON at all\n\nStill a usable report."))
	}))
	defer srv.Close()

	payload, err := webRegistry(t, srv.URL).Execute(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Contains(t, types.PayloadText(payload), "Not JSON at all")
}

func TestHTTPSourceMissingEndpointIsFatal(t *testing.T) {
	reg := DefaultRegistry(CatalogConfig{APIKey: "test-key"})
	_, err := reg.Get(types.ModuleWeb).Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeConfigMissing, flowerr.Code(err))
	assert.True(t, flowerr.IsFatal(err))
}

func TestHTTPSourceMissingAPIKeyIsFatal(t *testing.T) {
	reg := DefaultRegistry(CatalogConfig{
		Endpoints: map[types.ModuleID]string{types.ModuleWeb: "http://localhost:1"},
	})
	_, err := reg.Get(types.ModuleWeb).Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeConfigMissing, flowerr.Code(err))
}

func TestHTTPSourceRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := webRegistry(t, srv.URL).Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeRateLimit, flowerr.Code(err))
	assert.False(t, flowerr.IsFatal(err))
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := webRegistry(t, srv.URL).Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeConnectionFailed, flowerr.Code(err))
}

func TestHTTPSourceEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	_, err := webRegistry(t, srv.URL).Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeEmptyResult, flowerr.Code(err))
}

func TestHTTPSourceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	reg := DefaultRegistry(CatalogConfig{
		APIKey:    "test-key",
		Endpoints: map[types.ModuleID]string{types.ModuleWeb: srv.URL},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := reg.Get(types.ModuleWeb).Execute(ctx, "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeTimeout, flowerr.Code(err))
}

func TestSourceModuleWithoutSource(t *testing.T) {
	m := NewSourceModule(types.ModuleInfo{ID: types.ModuleWeb}, nil)
	_, err := m.Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeConfigMissing, flowerr.Code(err))
}
