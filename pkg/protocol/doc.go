// Package protocol defines the JSON-RPC 2.0 envelope and the MCP message types
// exchanged with agents: initialize, ping, resources, tools and prompts.
//
// Every message is a single JSON object. On stream transports messages are
// framed one per line.
package protocol
