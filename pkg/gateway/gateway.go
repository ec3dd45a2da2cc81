// Package gateway implements the MCP Core dispatch (§4.4): the subset of
// MCP methods the gateway itself answers, plus routing everything else
// through the aggregator/router layer.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/mcpgateway/gateway/pkg/aggregator"
	"github.com/mcpgateway/gateway/pkg/jsonrpc"
	"github.com/mcpgateway/gateway/pkg/logger"
	"github.com/mcpgateway/gateway/pkg/router"
)

// protocolVersion is the gateway's own declared MCP protocol version,
// returned from initialize regardless of what any individual backend
// advertised (§4.4 "initialize").
const protocolVersion = "2024-11-05"

// ServerName and ServerVersion identify the gateway itself in the
// initialize response's serverInfo.
const (
	ServerName    = "mcp-gateway"
	ServerVersion = "0.1.0"
)

// Dispatcher is the backend-call path gateway delegates to for anything
// not handled locally, satisfied by *router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error, error)
}

// Gateway is the MCP Core: it owns the current catalog snapshot and routes
// dispatch according to §4.4.
type Gateway struct {
	snapshots  *aggregator.Aggregator
	dispatcher Dispatcher
}

// New constructs a Gateway.
func New(snapshots *aggregator.Aggregator, dispatcher Dispatcher) *Gateway {
	return &Gateway{snapshots: snapshots, dispatcher: dispatcher}
}

// Handle processes one inbound JSON-RPC message and returns the response
// message to send, or nil if msg was a notification (no id) and requires
// no reply (§4.4 "JSON-RPC id policy").
func (g *Gateway) Handle(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	if err := msg.Validate(); err != nil {
		if msg.IsNotification() {
			return nil
		}
		resp, _ := jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidRequest, err.Error(), nil)
		return resp
	}

	isNotification := msg.IsNotification()

	result, rpcErr, err := g.dispatchMethod(ctx, msg.Method, msg.Params)

	if isNotification {
		if err != nil {
			logger.Warnf("gateway: notification %s failed: %v", msg.Method, err)
		}
		return nil
	}

	if rpcErr != nil {
		return &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: msg.ID, Error: rpcErr}
	}
	if err != nil {
		return errorResponse(msg.ID, msg.Method, err)
	}
	resp, _ := jsonrpc.NewResult(msg.ID, result)
	return resp
}

// dispatchMethod implements §4.4's method table: initialize/ping/list
// methods are answered locally; everything else is routed.
func (g *Gateway) dispatchMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error, error) {
	switch method {
	case "initialize":
		return g.handleInitialize()
	case "ping":
		return json.RawMessage(`{}`), nil, nil
	case "tools/list":
		return g.handleToolsList()
	case "resources/list":
		return g.handleResourcesList()
	case "resources/templates/list":
		return json.RawMessage(`{"resourceTemplates":[]}`), nil, nil
	case "prompts/list":
		return g.handlePromptsList()
	default:
		if router.Routable(method) {
			return g.dispatcher.Dispatch(ctx, method, params)
		}
		return nil, nil, routeNotFound(method)
	}
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handleInitialize answers with the gateway's own protocol version and
// server identity, and a capability union derived from whether any
// backend currently advertises tools/resources/prompts.
func (g *Gateway) handleInitialize() (json.RawMessage, *jsonrpc.Error, error) {
	snap := g.snapshots.Current()
	caps := map[string]any{}
	if len(snap.Tools) > 0 {
		caps["tools"] = map[string]any{}
	}
	if len(snap.Resources) > 0 {
		caps["resources"] = map[string]any{}
	}
	if len(snap.Prompts) > 0 {
		caps["prompts"] = map[string]any{}
	}
	result := initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: ServerName, Version: ServerVersion},
		Capabilities:    caps,
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, nil, err
	}
	return raw, nil, nil
}

func (g *Gateway) handleToolsList() (json.RawMessage, *jsonrpc.Error, error) {
	snap := g.snapshots.Current()
	raw, err := json.Marshal(map[string]any{"tools": snap.Tools})
	return raw, nil, err
}

func (g *Gateway) handleResourcesList() (json.RawMessage, *jsonrpc.Error, error) {
	snap := g.snapshots.Current()
	raw, err := json.Marshal(map[string]any{"resources": snap.Resources})
	return raw, nil, err
}

func (g *Gateway) handlePromptsList() (json.RawMessage, *jsonrpc.Error, error) {
	snap := g.snapshots.Current()
	raw, err := json.Marshal(map[string]any{"prompts": snap.Prompts})
	return raw, nil, err
}
