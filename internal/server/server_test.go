package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"tagforge/internal/catalog"
	"tagforge/internal/compose"
	"tagforge/internal/drift"
	"tagforge/internal/fragment"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeSource(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func newTestServer(t *testing.T, policy resolve.Policy) *Server {
	t.Helper()
	base := writeSource(t, map[string]string{
		"universal/instructions.yaml": "- id: core\n  title: Core\n  body: Be kind.\n- id: extra\n  tier: optional\n",
		"universal/hooks.yaml":        "- name: lint\n  script: make lint\n",
		"api/instructions.yaml":       "- id: api-rules\n",
		"api/structure.yaml":          "- path: api/\n",
	})
	logger := zaptest.NewLogger(t)
	cat := catalog.New(nil, logger)
	t.Cleanup(func() { cat.Close() })

	s, err := New(Options{Base: catalog.Spec{Name: "base", Dir: base}, Policy: policy}, cat, logger)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Policy: resolve.DefaultPolicy()}, nil, nil)
	assert.Error(t, err)

	cat := catalog.New(nil, nil)
	defer cat.Close()
	_, err = New(Options{Policy: resolve.Policy{AutoAdd: 0.2, Suggest: 0.5}}, cat, nil)
	assert.ErrorIs(t, err, tags.ErrInvalidInput)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["stores"])
}

func TestTags(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	rec := do(t, s, http.MethodGet, "/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tags  []tagInfo `json:"tags"`
		Tiers []string  `json:"tiers"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, []string{"core", "recommended", "optional"}, body.Tiers)
	require.Len(t, body.Tags, len(tags.All()))

	byName := make(map[tags.Tag]tagInfo)
	for _, info := range body.Tags {
		byName[info.Name] = info
	}
	assert.True(t, byName[tags.Universal].Present)
	assert.Equal(t, 2, byName[tags.Universal].Counts[fragment.KindInstructions])
	assert.Equal(t, 1, byName[tags.Universal].Counts[fragment.KindHooks])
	assert.True(t, byName[tags.API].Present)
	assert.False(t, byName[tags.CLI].Present)
	assert.Nil(t, byName[tags.CLI].Counts)
}

func TestCompose_JSON(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	rec := do(t, s, http.MethodPost, "/compose", map[string]interface{}{"tags": []string{"API"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Result compose.Result `json:"result"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, []tags.Tag{tags.Universal, tags.API}, body.Result.Tags)
	assert.Equal(t, tags.Recommended, body.Result.Tier, "empty tier uses the policy default")
	assert.Equal(t, []string{"core", "api-rules"}, body.Result.IDs(fragment.KindInstructions))
	assert.Equal(t, []string{"api/"}, body.Result.IDs(fragment.KindStructure))
	assert.Equal(t, []string{"lint"}, body.Result.IDs(fragment.KindHooks))
}

func TestCompose_Markdown(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	rec := do(t, s, http.MethodPost, "/compose", map[string]interface{}{
		"tags":    []string{"universal"},
		"tier":    "optional",
		"exclude": []string{"lint"},
		"format":  "markdown",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	md := rec.Body.String()
	assert.Contains(t, md, "### Core\n\nBe kind.")
	assert.Contains(t, md, "### extra")
	assert.NotContains(t, md, "## Hooks")
}

func TestCompose_BadRequests(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown tag", map[string]interface{}{"tags": []string{"nope"}}},
		{"unknown tier", map[string]interface{}{"tags": []string{"api"}, "tier": "gold"}},
		{"blank exclude", map[string]interface{}{"tags": []string{"api"}, "exclude": []string{" "}}},
		{"unknown field", map[string]interface{}{"tags": []string{"api"}, "colour": "red"}},
		{"bad format", map[string]interface{}{"tags": []string{"api"}, "format": "pdf"}},
		{"malformed json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/compose", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			decodeBody(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDrift_NoConfig(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	rec := do(t, s, http.MethodPost, "/drift", map[string]interface{}{
		"detections": []tags.Detection{{Tag: tags.API, Confidence: 0.9}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var rep drift.Report
	decodeBody(t, rec, &rep)
	assert.Equal(t, drift.StatusNoConfig, rep.Status)
	assert.NotEmpty(t, rep.Message)
	assert.Equal(t, 0, s.catalog.Len(), "no store is built for an unconfigured project")
}

func TestDrift_Report(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	rec := do(t, s, http.MethodPost, "/drift", map[string]interface{}{
		"existing":   map[string]interface{}{"tags": []string{"universal"}, "tier": "core"},
		"detections": []tags.Detection{{Tag: tags.API, Confidence: 0.9, Evidence: []string{"openapi.yaml"}}, {Tag: tags.CLI, Confidence: 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep drift.Report
	decodeBody(t, rec, &rep)
	assert.Equal(t, drift.StatusOK, rep.Status)
	assert.Equal(t, []tags.Tag{tags.Universal}, rep.CurrentTags)
	assert.Equal(t, []tags.Tag{tags.Universal, tags.API}, rep.ProposedTags)
	require.Len(t, rep.NewTagSuggestions, 1)
	assert.Equal(t, resolve.ActionAutoAdd, rep.NewTagSuggestions[0].Action)
	assert.Nil(t, rep.TierChange)
	assert.Equal(t, drift.CountDelta{Before: 1, After: 2, Delta: 1}, rep.FragmentCountDelta[fragment.KindInstructions])
	assert.Equal(t, drift.CountDelta{Before: 0, After: 1, Delta: 1}, rep.FragmentCountDelta[fragment.KindStructure])
	assert.Equal(t, drift.CountDelta{Before: 1, After: 1, Delta: 0}, rep.FragmentCountDelta[fragment.KindHooks])
	assert.Len(t, rep.Rejected, 1, "out-of-range detection is reported, not fatal")
}

func TestDrift_UsesDocumentExtensionSources(t *testing.T) {
	base := writeSource(t, map[string]string{
		"universal/instructions.yaml": "- id: core\n",
		"api/instructions.yaml":       "- id: api-rules\n",
	})
	workspace := writeSource(t, map[string]string{
		"fragments/team/api/instructions.yaml": "- id: api-rules\n  body: shadowed\n- id: api-team\n",
	})
	logger := zaptest.NewLogger(t)
	cat := catalog.New(nil, logger)
	t.Cleanup(func() { cat.Close() })
	s, err := New(Options{Workspace: workspace, Base: catalog.Spec{Name: "base", Dir: base}, Policy: resolve.DefaultPolicy()}, cat, logger)
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/drift", map[string]interface{}{
		"existing": map[string]interface{}{
			"tags":              []string{"universal"},
			"extension_sources": []string{"fragments/team"},
		},
		"detections": []tags.Detection{{Tag: tags.API, Confidence: 0.9}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep drift.Report
	decodeBody(t, rec, &rep)
	assert.Equal(t, drift.CountDelta{Before: 1, After: 3, Delta: 2}, rep.FragmentCountDelta[fragment.KindInstructions])
	assert.Equal(t, 1, cat.Len())

	rec = do(t, s, http.MethodGet, "/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, cat.Len(), "the configured sources alone are a separate store")
}

func TestDrift_Description(t *testing.T) {
	s := newTestServer(t, resolve.Policy{AutoAdd: 0.6, Suggest: 0.3, DefaultTier: tags.Recommended})
	rec := do(t, s, http.MethodPost, "/drift", map[string]interface{}{
		"existing":    map[string]interface{}{"tags": []string{"universal"}},
		"description": "exposes a REST endpoint",
		"tier":        "optional",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep drift.Report
	decodeBody(t, rec, &rep)
	require.Len(t, rep.NewTagSuggestions, 1)
	assert.Equal(t, tags.API, rep.NewTagSuggestions[0].Tag)
	assert.Equal(t, resolve.ActionManual, rep.NewTagSuggestions[0].Action)
	assert.Equal(t, []tags.Tag{tags.Universal}, rep.ProposedTags)
	require.NotNil(t, rep.TierChange)
	assert.Equal(t, tags.Recommended, rep.TierChange.From)
	assert.Equal(t, tags.Optional, rep.TierChange.To)
}

func TestDrift_BadRequests(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"bad add", map[string]interface{}{"add": []string{"nope"}}},
		{"bad remove", map[string]interface{}{"remove": []string{"nope"}}},
		{"bad tier", map[string]interface{}{"tier": "gold"}},
		{"bad existing tag", map[string]interface{}{"existing": map[string]interface{}{"tags": []string{"nope"}}}},
		{"bad existing tier", map[string]interface{}{"existing": map[string]interface{}{"tags": []string{"api"}, "tier": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/drift", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRouting(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/compose", nil).Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, resolve.DefaultPolicy())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
