// Package api provides HTTP API handlers for the chat backend.
package api

// APIVersion represents the current API version supported by this server.
// Clients use it to detect which frames and endpoints are available.
const (
	// APIVersion1 is the original API version.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// ServiceName identifies this server in status responses
const ServiceName = "chat-backend"

// APICapabilities describes the features available at each API version.
var APICapabilities = map[int][]string{
	APIVersion1: {
		"websocket-chat",
		"presence",
		"history",
		"ack",
	},
}

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
	Rooms        int      `json:"rooms"`
	Connections  int      `json:"connections"`
	Draining     bool     `json:"draining,omitempty"`
}
