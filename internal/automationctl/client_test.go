package automationctl

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIClientSetsBearerTokenAndDecodesResponse(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"rule-1"}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, "tok-123")
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(http.MethodGet, "/api/automations/rule-1", nil, &out)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-123", gotAuth)
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "/api/automations/rule-1", gotPath)
	require.Equal(t, "rule-1", out.ID)
}

func TestAPIClientReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"automation not found"}}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, "")
	err := c.do(http.MethodGet, "/api/automations/missing", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"itemId=abc123", "reason=manual"})
	require.NoError(t, err)
	require.Equal(t, "abc123", params["itemId"])
	require.Equal(t, "manual", params["reason"])

	_, err = parseParams([]string{"badformat"})
	require.Error(t, err)
}
