package protocol

const (
	// ProtocolVersion is the MCP revision this server speaks
	ProtocolVersion = "2024-11-05"

	// ServerName is reported in the initialize handshake
	ServerName = "tari-universe-mcp-server"
	// ServerVersion is reported in the initialize handshake
	ServerVersion = "1.0.0"
)

// Methods understood by the engine
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListPrompts   = "prompts/list"
	MethodGetPrompt     = "prompts/get"
)

// Implementation identifies a client or server
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      Implementation         `json:"clientInfo"`
}

// ListChangedCapability is the shape shared by the tools, resources and
// prompts capability objects.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities advertises what the server supports
type ServerCapabilities struct {
	Logging   map[string]interface{} `json:"logging"`
	Prompts   ListChangedCapability  `json:"prompts"`
	Resources ListChangedCapability  `json:"resources"`
	Tools     ListChangedCapability  `json:"tools"`
}

// InitializeResult is returned from initialize
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// PingResult is returned from ping
type PingResult struct {
	Message string `json:"message"`
}
