// Package catalog defines the tool/resource/prompt entry shapes shared
// between a backend's advertised capabilities and the aggregator's merged
// view of them (§3, §4.3).
package catalog

// Tool is an MCP tool entry advertised by a backend.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	BackendID   string         `json:"-"`
}

// Resource is an MCP resource entry advertised by a backend.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	BackendID   string `json:"-"`
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is an MCP prompt entry advertised by a backend.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	BackendID   string           `json:"-"`
}

// Capabilities is the full set of entries a backend reported from its
// initialize + */list responses.
type Capabilities struct {
	Tools     []Tool
	Resources []Resource
	Prompts   []Prompt

	// ProtocolVersion and ServerInfo are captured from the backend's
	// initialize response for inclusion in the gateway's own capability
	// union (§4.4 initialize).
	ProtocolVersion string
	ServerName      string
	ServerVersion   string
}

// Shadowed records a catalog entry that lost a name/uri collision to an
// earlier-declared backend. Visible only via admin endpoints (§4.3).
type Shadowed struct {
	Kind      string `json:"kind"` // "tool", "resource", or "prompt"
	Key       string `json:"key"`
	BackendID string `json:"backendId"`
	WinnerID  string `json:"winnerId"`
}
