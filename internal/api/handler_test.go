package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-switcher/internal/engine"
	"vpn-switcher/internal/journal"
	"vpn-switcher/internal/trust"
)

type nopDriver struct{}

func (nopDriver) Activate(context.Context, string) error   { return nil }
func (nopDriver) Deactivate(context.Context, string) error { return nil }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	store := trust.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, store.Save(&trust.Map{
		Rules:    []trust.Rule{{SSID: "Home", Profile: "vpn-home"}},
		Fallback: "vpn-fallback",
	}))

	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	require.NoError(t, j.Record(journal.EventActivated, "vpn-home", "ssid:Home"))

	eng := engine.New(nopDriver{}, store, engine.LogNotifier{}, engine.Options{
		MaxAttempts:   1,
		Backoff:       time.Millisecond,
		IntentTimeout: time.Second,
	})

	return NewHandler(eng, store, func(limit int) (any, error) { return j.Recent(limit) })
}

func TestRouter_Healthz(t *testing.T) {
	ts := httptest.NewServer(Router(newTestHandler(t)))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_Status(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	w := httptest.NewRecorder()
	h.Status(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var st engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Empty(t, st.ActiveVPN)
}

func TestHandler_Rules(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/v1/rules", nil)
	w := httptest.NewRecorder()
	h.Rules(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rules    []trust.Rule `json:"rules"`
		Fallback string       `json:"fallback"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 1)
	assert.Equal(t, "vpn-home", resp.Rules[0].Profile)
	assert.Equal(t, "vpn-fallback", resp.Fallback)
}

func TestHandler_Journal(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/v1/journal?limit=5", nil)
	w := httptest.NewRecorder()
	h.Journal(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "vpn-home", entries[0].Profile)
}

func TestHandler_JournalDisabled(t *testing.T) {
	h := newTestHandler(t)
	h.journal = nil

	req := httptest.NewRequest("GET", "/v1/journal", nil)
	w := httptest.NewRecorder()
	h.Journal(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
