package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-agents/lighthouse/pkg/bridge"
	"github.com/lighthouse-agents/lighthouse/pkg/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := config.Parse([]byte("auth_secret: " + testSecret + "\n"))
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()

	b, err := bridge.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ts := httptest.NewServer(NewServer(cfg, b).Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token, agentID string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(AgentHeader, agentID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func createSession(t *testing.T, ts *httptest.Server, agentID, role string) string {
	t.Helper()
	resp, data := doJSON(t, ts, http.MethodPost, "/v1/sessions", "", "", map[string]string{
		"agent_id": agentID,
		"role":     role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestSessionAndValidateOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := createSession(t, ts, "alice", "agent")

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/validate", token, "alice", map[string]any{
		"tool_name":  "Read",
		"tool_input": map[string]any{"file_path": "/tmp/a"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var res struct {
		Decision string `json:"decision"`
		Tier     string `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "approved", res.Decision)
	assert.Equal(t, "policy", res.Tier)
}

func TestMissingTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/validate", "", "", map[string]any{
		"tool_name": "Read",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForgedTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts, http.MethodPost, "/v1/validate", "a:alice:1:bad", "alice", map[string]any{
		"tool_name": "Read",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var out struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "auth", out.Kind)
}

func TestGuestWriteForbidden(t *testing.T) {
	ts := newTestServer(t)
	token := createSession(t, ts, "peek", "guest")

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/events", token, "peek", map[string]any{
		"event_type":   "shadow_updated",
		"aggregate_id": "project:x",
		"source_agent": "peek",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(data))
}

func TestAppendAndQueryOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := createSession(t, ts, "alice", "agent")

	for i := 0; i < 3; i++ {
		resp, data := doJSON(t, ts, http.MethodPost, "/v1/events", token, "alice", map[string]any{
			"event_type":   "shadow_updated",
			"aggregate_id": "project:x",
			"source_agent": "alice",
			"data":         map[string]any{"rev": i},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	}

	resp, data := doJSON(t, ts, http.MethodGet,
		"/v1/events?types=shadow_updated&aggregate_id=project:x&limit=10", token, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var page struct {
		Events []struct {
			Sequence  int64  `json:"sequence"`
			EventType string `json:"event_type"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Events, 3)
	assert.Less(t, page.Events[0].Sequence, page.Events[2].Sequence)
}

func TestBadQueryParamRejected(t *testing.T) {
	ts := newTestServer(t)
	token := createSession(t, ts, "alice", "agent")

	resp, _ := doJSON(t, ts, http.MethodGet, "/v1/events?types=not_a_type", token, "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/events?limit=abc", token, "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestElicitationOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := createSession(t, ts, "alice", "agent")
	bobToken := createSession(t, ts, "bob", "agent")

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/elicitations", aliceToken, "alice", map[string]any{
		"to_agent":  "bob",
		"message":   "ship it?",
		"timeout_s": 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var el struct {
		ElicitationID string `json:"elicitation_id"`
	}
	require.NoError(t, json.Unmarshal(data, &el))

	resp, data = doJSON(t, ts, http.MethodPost,
		fmt.Sprintf("/v1/elicitations/%s/respond", el.ElicitationID), bobToken, "bob", map[string]any{
			"response_type": "accept",
			"data":          map[string]any{"ok": true},
		})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(data))

	resp, data = doJSON(t, ts, http.MethodGet,
		fmt.Sprintf("/v1/elicitations/%s/await", el.ElicitationID), aliceToken, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var got struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "accepted", got.Status)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodGet, "/healthz", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, "healthy", h.Status)

	resp, _ = doJSON(t, ts, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
