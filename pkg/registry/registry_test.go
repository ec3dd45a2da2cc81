package registry

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/mcpgateway/gateway/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct{}

func (fakeSink) HandleBackendNotification(string, string, json.RawMessage) {}

type fakeListener struct {
	rebuilds chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{rebuilds: make(chan struct{}, 16)}
}

func (f *fakeListener) Rebuild() {
	select {
	case f.rebuilds <- struct{}{}:
	default:
	}
}

func echoDescriptor(id string) backend.Descriptor {
	return backend.Descriptor{
		ID:             id,
		Name:           id,
		Transport:      "stdio",
		Command:        "sh",
		Args: []string{"-c", `
while IFS= read -r line; do
  rid=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  method=$(printf '%s' "$line" | sed -n 's/.*"method":"\([a-zA-Z_/]*\)".*/\1/p')
  case "$method" in
    initialize) printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"e","version":"1"},"capabilities":{"tools":{}}}}\n' "$rid" ;;
    tools/list) printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[]}}\n' "$rid" ;;
  esac
done
`},
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
		Enabled:        true,
		MaxRestarts:    2,
	}
}

func failingDescriptor(id string) backend.Descriptor {
	return backend.Descriptor{
		ID:             id,
		Name:           id,
		Transport:      "stdio",
		Command:        "sh",
		Args:           []string{"-c", "exit 1"},
		ConnectTimeout: 200 * time.Millisecond,
		RequestTimeout: time.Second,
		Enabled:        true,
		MaxRestarts:    1,
	}
}

func TestRegistryLoadStartsEnabledBackends(t *testing.T) {
	if _, err := lookSh(); err != nil {
		t.Skip("sh not available")
	}
	listener := newFakeListener()
	r := New(fakeSink{}, listener)
	defer r.Shutdown(context.Background())

	r.Load(context.Background(), []backend.Descriptor{echoDescriptor("b1")})

	a, ok := r.Adapter("b1")
	require.True(t, ok)
	assert.Equal(t, backend.StateReady, a.State())
}

func TestRegistryDegradesAndSchedulesRestart(t *testing.T) {
	if _, err := lookSh(); err != nil {
		t.Skip("sh not available")
	}
	r := New(fakeSink{}, nil)
	defer r.Shutdown(context.Background())

	r.Load(context.Background(), []backend.Descriptor{failingDescriptor("bad")})

	a, ok := r.Adapter("bad")
	require.True(t, ok)
	assert.NotEqual(t, backend.StateReady, a.State())

	statuses := r.StatusAll()
	require.Len(t, statuses, 1)
	assert.Equal(t, "bad", statuses[0].ID)
}

// exitingDescriptor answers the handshake like echoDescriptor but exits the
// moment it receives an "exit" call, closing stdout without responding.
func exitingDescriptor(id string) backend.Descriptor {
	return backend.Descriptor{
		ID:        id,
		Name:      id,
		Transport: "stdio",
		Command:   "sh",
		Args: []string{"-c", `
while IFS= read -r line; do
  rid=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  method=$(printf '%s' "$line" | sed -n 's/.*"method":"\([a-zA-Z_/]*\)".*/\1/p')
  case "$method" in
    initialize) printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"e","version":"1"},"capabilities":{"tools":{}}}}\n' "$rid" ;;
    tools/list) printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[]}}\n' "$rid" ;;
    exit) exit 0 ;;
  esac
done
`},
		ConnectTimeout:        5 * time.Second,
		RequestTimeout:        time.Second,
		Enabled:               true,
		MaxRestarts:           2,
		RestartBackoffInitial: 20 * time.Millisecond,
		RestartBackoffMax:     50 * time.Millisecond,
	}
}

// TestRegistryRestartsBackendThatDegradesAtRuntime guards against a
// backend that fails itself outside the health prober's ping cadence (a
// framing error or a closed stdout pipe) being left Degraded forever: the
// Registry must still notice via Adapter.onDegrade and schedule a restart.
func TestRegistryRestartsBackendThatDegradesAtRuntime(t *testing.T) {
	if _, err := lookSh(); err != nil {
		t.Skip("sh not available")
	}
	listener := newFakeListener()
	r := New(fakeSink{}, listener)
	defer r.Shutdown(context.Background())

	r.Load(context.Background(), []backend.Descriptor{exitingDescriptor("flaky")})

	a, ok := r.Adapter("flaky")
	require.True(t, ok)
	require.Eventually(t, func() bool { return a.State() == backend.StateReady }, 2*time.Second, 10*time.Millisecond)

	// Drain the Rebuild notification from the initial successful start so
	// the next assertion observes the one caused by the degrade.
	select {
	case <-listener.rebuilds:
	default:
	}

	_, _, _ = a.Call(context.Background(), "exit", map[string]any{}, time.Second)

	select {
	case <-listener.rebuilds:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was never notified after the backend degraded at runtime")
	}

	require.Eventually(t, func() bool { return a.State() == backend.StateReady }, 3*time.Second, 20*time.Millisecond,
		"registry should have restarted the degraded backend")
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 500 * time.Millisecond
	assert.Equal(t, initial, backoffDelay(initial, max, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(initial, max, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(initial, max, 3))
	assert.Equal(t, max, backoffDelay(initial, max, 4))
	assert.Equal(t, max, backoffDelay(initial, max, 10))
}

func lookSh() (string, error) {
	return exec.LookPath("sh")
}
