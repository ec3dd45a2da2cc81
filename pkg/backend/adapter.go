// Package backend implements the stdio JSON-RPC backend adapter (§4.1): it
// owns one child process, frames newline-delimited JSON-RPC over its
// stdin/stdout, correlates outbound requests with inbound responses, and
// forwards server-initiated messages to a notification sink.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/mcpgateway/gateway/pkg/catalog"
	"github.com/mcpgateway/gateway/pkg/jsonrpc"
	"github.com/mcpgateway/gateway/pkg/logger"
)

// maxLineSize bounds a single JSON-RPC line read from a backend's stdout.
// Lines longer than this fail the read with a framing error (§4.1).
const maxLineSize = 8 * 1024 * 1024

// gatewayProtocolVersion is what this gateway declares to backends during
// their initialize handshake (§4.1 "Connect / initialize").
const gatewayProtocolVersion = "2024-11-05"

// killGracePeriod is how long Stop waits after SIGTERM before escalating to
// SIGKILL (§5 Cancellation).
const killGracePeriod = 5 * time.Second

// NotificationSink receives server-initiated messages (method present, no
// id) from a backend, for fan-out to interested sessions (§4.1, §4.5).
type NotificationSink interface {
	HandleBackendNotification(backendID, method string, params json.RawMessage)
}

// Adapter owns one backend child process and its stdio JSON-RPC framing.
type Adapter struct {
	desc Descriptor
	sink NotificationSink

	// onDegrade, if set, is invoked (outside the adapter's own lock)
	// whenever fail transitions the adapter to Degraded, so the Registry
	// can enter it into its restart supervision loop even when the
	// failure happens outside the health prober's ping cadence.
	onDegrade func()

	mu                  sync.Mutex // guards everything below except pending/stdin
	state               State
	cmd                 *exec.Cmd
	stdout              io.ReadCloser
	lastStart           time.Time
	consecutiveFailures int
	caps                catalog.Capabilities

	stdinMu sync.Mutex // serializes writes to the child's stdin
	stdin   io.WriteCloser

	pending *pendingTable

	logFilter *regexp.Regexp

	stopCh chan struct{} // closed by Stop; signals reader/stderr goroutines to wind down
	wg     sync.WaitGroup
}

// NewAdapter constructs an Adapter for desc. The adapter is Idle until
// Start is called.
func NewAdapter(desc Descriptor, sink NotificationSink) *Adapter {
	a := &Adapter{
		desc:    desc,
		sink:    sink,
		state:   StateIdle,
		pending: newPendingTable(),
	}
	if desc.LogFilterRegex != "" {
		if re, err := regexp.Compile(desc.LogFilterRegex); err == nil {
			a.logFilter = re
		} else {
			logger.Warnf("backend %s: invalid logFilterRegex %q: %v", desc.ID, desc.LogFilterRegex, err)
		}
	}
	return a
}

// SetOnDegrade registers a callback invoked every time fail demotes the
// adapter to Degraded. Used by the Registry to hook its restart policy up
// to failures the adapter detects on its own (framing errors, a closed
// stdout pipe) rather than only ones the health prober notices.
func (a *Adapter) SetOnDegrade(fn func()) {
	a.mu.Lock()
	a.onDegrade = fn
	a.mu.Unlock()
}

// ID returns the backend's stable identifier.
func (a *Adapter) ID() string { return a.desc.ID }

// Descriptor returns the immutable descriptor this adapter was built from.
func (a *Adapter) Descriptor() Descriptor { return a.desc }

// State returns the adapter's current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Capabilities returns the most recently captured catalog. Safe to call
// concurrently with Start/Stop.
func (a *Adapter) Capabilities() catalog.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps
}

// PendingCount reports the number of in-flight outbound requests, for
// status reporting.
func (a *Adapter) PendingCount() int { return a.pending.len() }

// IsReady reports whether the adapter is currently in the Ready state, for
// use by the health prober (satisfies health.Pingable).
func (a *Adapter) IsReady() bool { return a.State() == StateReady }

// Ping issues a lightweight liveness call to the backend (satisfies
// health.Pingable). MCP has no dedicated ping payload requirement beyond
// the method name, so params are omitted.
func (a *Adapter) Ping(ctx context.Context) error {
	_, rpcErr, err := a.call(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if rpcErr != nil {
		return fmt.Errorf("ping error %d: %s", rpcErr.Code, rpcErr.Message)
	}
	return nil
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Start spawns the child process, performs the initialize handshake, and
// queries tools/resources/prompts. On success the adapter transitions to
// Ready. On any failure it transitions to Degraded and returns an error;
// the Registry's restart policy decides whether and when to call Start
// again (§4.1 "Connect / initialize", §4.2).
func (a *Adapter) Start(ctx context.Context) error {
	a.setState(StateStarting)

	cmd := exec.Command(a.desc.Command, a.desc.Args...)
	cmd.Env = append(os.Environ(), envSlice(a.desc.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		a.setState(StateDegraded)
		return fmt.Errorf("backend %s: failed to open stdin pipe: %w", a.desc.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.setState(StateDegraded)
		return fmt.Errorf("backend %s: failed to open stdout pipe: %w", a.desc.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		a.setState(StateDegraded)
		return fmt.Errorf("backend %s: failed to open stderr pipe: %w", a.desc.ID, err)
	}

	if err := cmd.Start(); err != nil {
		a.setState(StateDegraded)
		return fmt.Errorf("backend %s: failed to start process: %w", a.desc.ID, err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.stdout = stdout
	a.lastStart = time.Now()
	a.mu.Unlock()

	a.stdinMu.Lock()
	a.stdin = stdin
	a.stdinMu.Unlock()

	// Fresh pending table per spawn: ids reset to zero and any stale
	// waiters from a prior incarnation are gone (§3 invariant c).
	a.pending = newPendingTable()
	a.stopCh = make(chan struct{})

	a.wg.Add(2)
	go a.readLoop(stdout)
	go a.drainStderr(stderr)

	connectCtx, cancel := context.WithTimeout(ctx, a.desc.ConnectTimeout)
	defer cancel()

	caps, err := a.handshake(connectCtx)
	if err != nil {
		a.fail("initialize failed: " + err.Error())
		return fmt.Errorf("backend %s: handshake failed: %w", a.desc.ID, err)
	}

	a.mu.Lock()
	a.caps = *caps
	a.consecutiveFailures = 0
	a.mu.Unlock()
	a.setState(StateReady)
	logger.Infof("backend %s ready: %d tools, %d resources, %d prompts",
		a.desc.ID, len(caps.Tools), len(caps.Resources), len(caps.Prompts))
	return nil
}

// fail transitions the adapter to Degraded, clears its stale capability
// snapshot so a degraded backend drops out of the aggregated catalog
// (§4.2 "its entries are removed from the aggregate catalog"), drains all
// pending waiters, and records a consecutive failure for the Registry's
// restart policy.
func (a *Adapter) fail(reason string) {
	a.mu.Lock()
	a.consecutiveFailures++
	a.caps = catalog.Capabilities{}
	onDegrade := a.onDegrade
	a.mu.Unlock()
	a.setState(StateDegraded)
	a.pending.drain(fmt.Errorf("%w: %s", ErrUnavailable, reason))
	logger.Warnf("backend %s degraded: %s", a.desc.ID, reason)
	// onDegrade typically stops the adapter and waits for readLoop/
	// drainStderr to exit (Registry.demoteAndScheduleRestart -> Stop ->
	// wg.Wait). fail is called from readLoop itself on some paths, so
	// invoking onDegrade synchronously here would deadlock: readLoop can
	// never reach its deferred wg.Done while it's blocked waiting on
	// itself. Run it on its own goroutine instead.
	if onDegrade != nil {
		go onDegrade()
	}
}

// ConsecutiveFailures returns the number of unclean terminations in a row,
// reset to zero on the next clean Ready transition.
func (a *Adapter) ConsecutiveFailures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveFailures
}

// LastStart returns the time of the most recent successful spawn.
func (a *Adapter) LastStart() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastStart
}

// handshake sends initialize, then tools/list, resources/list, and
// prompts/list in parallel once the server capabilities are known.
func (a *Adapter) handshake(ctx context.Context) (*catalog.Capabilities, error) {
	initParams := map[string]any{
		"protocolVersion": gatewayProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-gateway", "version": "0.1.0"},
	}
	raw, rpcErr, err := a.call(ctx, "initialize", initParams)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, fmt.Errorf("initialize error %d: %s", rpcErr.Code, rpcErr.Message)
	}

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
		Capabilities struct {
			Tools     json.RawMessage `json:"tools"`
			Resources json.RawMessage `json:"resources"`
			Prompts   json.RawMessage `json:"prompts"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(raw, &initResult); err != nil {
		return nil, fmt.Errorf("malformed initialize result: %w", err)
	}

	caps := &catalog.Capabilities{
		ProtocolVersion: initResult.ProtocolVersion,
		ServerName:      initResult.ServerInfo.Name,
		ServerVersion:   initResult.ServerInfo.Version,
	}

	type listOutcome struct {
		kind string
		raw  json.RawMessage
		err  error
	}
	outcomes := make(chan listOutcome, 3)

	queryOne := func(kind, method string, supported bool) {
		if !supported {
			outcomes <- listOutcome{kind: kind}
			return
		}
		raw, rpcErr, err := a.call(ctx, method, map[string]any{})
		if err != nil {
			outcomes <- listOutcome{kind: kind, err: err}
			return
		}
		if rpcErr != nil {
			outcomes <- listOutcome{kind: kind, err: fmt.Errorf("%s error %d: %s", method, rpcErr.Code, rpcErr.Message)}
			return
		}
		outcomes <- listOutcome{kind: kind, raw: raw}
	}

	go queryOne("tools", "tools/list", initResult.Capabilities.Tools != nil)
	go queryOne("resources", "resources/list", initResult.Capabilities.Resources != nil)
	go queryOne("prompts", "prompts/list", initResult.Capabilities.Prompts != nil)

	for i := 0; i < 3; i++ {
		o := <-outcomes
		if o.err != nil {
			return nil, o.err
		}
		if o.raw == nil {
			continue
		}
		switch o.kind {
		case "tools":
			var res struct {
				Tools []catalog.Tool `json:"tools"`
			}
			if err := json.Unmarshal(o.raw, &res); err != nil {
				return nil, fmt.Errorf("malformed tools/list result: %w", err)
			}
			for i := range res.Tools {
				res.Tools[i].BackendID = a.desc.ID
			}
			caps.Tools = res.Tools
		case "resources":
			var res struct {
				Resources []catalog.Resource `json:"resources"`
			}
			if err := json.Unmarshal(o.raw, &res); err != nil {
				return nil, fmt.Errorf("malformed resources/list result: %w", err)
			}
			for i := range res.Resources {
				res.Resources[i].BackendID = a.desc.ID
			}
			caps.Resources = res.Resources
		case "prompts":
			var res struct {
				Prompts []catalog.Prompt `json:"prompts"`
			}
			if err := json.Unmarshal(o.raw, &res); err != nil {
				return nil, fmt.Errorf("malformed prompts/list result: %w", err)
			}
			for i := range res.Prompts {
				res.Prompts[i].BackendID = a.desc.ID
			}
			caps.Prompts = res.Prompts
		}
	}

	return caps, nil
}

// Call issues an outbound request and blocks until a response arrives, the
// deadline elapses, or ctx is cancelled (§4.1 "Request/response correlation").
func (a *Adapter) Call(ctx context.Context, method string, params any, deadline time.Duration) (json.RawMessage, *jsonrpc.Error, error) {
	if a.State() != StateReady {
		return nil, nil, fmt.Errorf("%w: backend %s is %s", ErrUnavailable, a.desc.ID, a.State())
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	return a.call(callCtx, method, params)
}

// call performs one request/response cycle against the current child,
// without checking lifecycle state (used internally during handshake,
// where the adapter is still Starting).
func (a *Adapter) call(ctx context.Context, method string, params any) (json.RawMessage, *jsonrpc.Error, error) {
	id := a.pending.nextRequestID()
	w := a.pending.register(id)

	msg, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		a.pending.abandon(id)
		return nil, nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		a.pending.abandon(id)
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	data = append(data, '\n')

	if err := a.writeLine(data); err != nil {
		a.pending.abandon(id)
		return nil, nil, fmt.Errorf("%w: failed to write to backend %s: %v", ErrUnavailable, a.desc.ID, err)
	}

	select {
	case res := <-w.resultCh:
		if res.err != nil {
			return nil, nil, res.err
		}
		return res.result, res.rpcErr, nil
	case <-ctx.Done():
		a.pending.abandon(id)
		return nil, nil, fmt.Errorf("%w: method %s on backend %s", ErrTimeout, method, a.desc.ID)
	}
}

// writeLine serializes writes to the child's stdin (§4.1 "Backpressure").
func (a *Adapter) writeLine(data []byte) error {
	a.stdinMu.Lock()
	defer a.stdinMu.Unlock()
	if a.stdin == nil {
		return ErrNotRunning
	}
	_, err := a.stdin.Write(data)
	return err
}

// readLoop reads newline-delimited JSON-RPC messages from the child's
// stdout until it closes or a framing error occurs, at which point the
// adapter degrades and surrenders to the Registry's restart policy.
func (a *Adapter) readLoop(stdout io.ReadCloser) {
	defer a.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg jsonrpc.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warnf("backend %s: framing error: %v", a.desc.ID, err)
			a.fail("malformed JSON from child")
			return
		}
		a.dispatchInbound(&msg)
	}

	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			a.fail("line exceeded maximum frame size")
		} else {
			a.fail(fmt.Sprintf("stdout read error: %v", err))
		}
		return
	}

	// EOF: child closed stdout without an explicit framing error.
	if a.State() != StateStopping && a.State() != StateTerminated {
		a.fail("child closed stdout")
	}
}

// dispatchInbound routes one parsed message to either the pending table
// (it carries a known id) or the notification sink (it carries a method).
func (a *Adapter) dispatchInbound(msg *jsonrpc.Message) {
	if msg.Method != "" {
		// Server-initiated notification or request; the gateway only
		// forwards these, it never answers backend-initiated requests.
		if a.sink != nil {
			a.sink.HandleBackendNotification(a.desc.ID, msg.Method, msg.Params)
		}
		return
	}

	id, ok := toInt64(msg.ID)
	if !ok {
		logger.Warnf("backend %s: response with unrecognized id %v discarded", a.desc.ID, msg.ID)
		return
	}

	completed := a.pending.complete(id, waiterResult{result: msg.Result, rpcErr: msg.Error})
	if !completed {
		logger.Warnf("backend %s: unmatched response for id %v discarded", a.desc.ID, id)
	}
}

// drainStderr continuously forwards the child's stderr to the log sink. It
// never blocks the reader or writer paths (§4.1 "Stderr is drained
// continuously").
func (a *Adapter) drainStderr(stderr io.ReadCloser) {
	defer a.wg.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if a.logFilter != nil && a.logFilter.MatchString(line) {
			continue
		}
		logger.Infow("backend stderr", "backend", a.desc.ID, "line", line)
	}
}

// Stop sends SIGTERM to the child, escalating to SIGKILL after a grace
// period, and waits for the reader/stderr goroutines to finish.
func (a *Adapter) Stop(ctx context.Context) error {
	a.setState(StateStopping)

	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		a.setState(StateTerminated)
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(killGracePeriod):
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}

	a.pending.drain(ErrShuttingDown)
	a.stdinMu.Lock()
	if a.stdin != nil {
		_ = a.stdin.Close()
	}
	a.stdinMu.Unlock()

	a.wg.Wait()
	a.setState(StateTerminated)
	return nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
