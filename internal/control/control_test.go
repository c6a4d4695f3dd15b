package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghostkellz/nitrogen/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	status   orchestrator.Status
	stats    orchestrator.Stats
	stopped  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{stopped: make(chan struct{}, 1)}
}

func (f *fakeController) Status() orchestrator.Status { return f.status }
func (f *fakeController) Stats() orchestrator.Stats   { return f.stats }
func (f *fakeController) Stop()                       { f.stopped <- struct{}{} }

func startTestServer(t *testing.T, ctl Controller) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nitrogen.sock")
	srv, err := NewServer(path, ctl)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, path
}

func TestSocketPathPrefersRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/nitrogen.sock", SocketPath())
}

func TestSocketPathFallsBackToTmp(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Contains(t, SocketPath(), "/tmp/nitrogen-")
}

func TestServerSocketPermissions(t *testing.T) {
	_, path := startTestServer(t, newFakeController())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPingRoundTrip(t *testing.T) {
	_, path := startTestServer(t, newFakeController())
	client := NewClient(path)
	assert.NoError(t, client.Ping())
}

func TestStatusRoundTrip(t *testing.T) {
	ctl := newFakeController()
	ctl.status = orchestrator.Status{Running: true, State: "Running", PID: 42}
	_, path := startTestServer(t, ctl)

	status, err := NewClient(path).Status()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, "Running", status.State)
	assert.Equal(t, 42, status.PID)
}

func TestStatsRoundTrip(t *testing.T) {
	ctl := newFakeController()
	ctl.stats = orchestrator.Stats{FramesProcessed: 100, Codec: "H.264", BitrateKbps: 6000}
	_, path := startTestServer(t, ctl)

	stats, err := NewClient(path).Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 100, stats.FramesProcessed)
	assert.Equal(t, "H.264", stats.Codec)
	assert.EqualValues(t, 6000, stats.BitrateKbps)
}

func TestStopSignalsController(t *testing.T) {
	ctl := newFakeController()
	_, path := startTestServer(t, ctl)

	require.NoError(t, NewClient(path).Stop(false))
	select {
	case <-ctl.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() was not invoked on the controller")
	}
}

func TestForceStopSignalsController(t *testing.T) {
	ctl := newFakeController()
	_, path := startTestServer(t, ctl)

	require.NoError(t, NewClient(path).Stop(true))
	select {
	case <-ctl.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() was not invoked on the controller")
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	_, path := startTestServer(t, newFakeController())

	raw, err := NewClient(path).send(Request{Type: "Bogus"})
	require.NoError(t, err)
	assert.Equal(t, RespError, raw.Type)
	assert.Contains(t, raw.Message, "Bogus")
}

func TestResponseMarshalFlattensStatusFields(t *testing.T) {
	resp := StatusResponse(orchestrator.Status{Running: true, State: "Running", PID: 7})
	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "Status", raw["type"])
	assert.Equal(t, true, raw["running"])
	assert.Equal(t, float64(7), raw["pid"])
}

func TestResponseUnmarshalRoundTripsError(t *testing.T) {
	resp := ErrorResponse("boom: %d", 42)
	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed Response
	require.NoError(t, json.Unmarshal(b, &parsed))
	assert.Equal(t, RespError, parsed.Type)
	assert.Equal(t, "boom: 42", parsed.Message)
}
