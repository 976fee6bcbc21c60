package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirosfoundation/go-chat-backend/internal/api"
	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/gateway"
)

// Client talks to the chat backend admin API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new admin API client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is an error body returned by the admin API
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("admin API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("admin API error (%d, %s): %s", e.StatusCode, e.Type, e.Message)
}

// Status returns gateway and storage health
func (c *Client) Status(ctx context.Context) (*api.AdminStatusResponse, error) {
	var status api.AdminStatusResponse
	if err := c.do(ctx, http.MethodGet, "/admin/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Rooms lists the live rooms
func (c *Client) Rooms(ctx context.Context) ([]gateway.RoomInfo, error) {
	var resp api.RoomListResponse
	if err := c.do(ctx, http.MethodGet, "/admin/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// Room returns one live room and its members
func (c *Client) Room(ctx context.Context, key domain.RoomKey) (*gateway.RoomInfo, error) {
	var info gateway.RoomInfo
	if err := c.do(ctx, http.MethodGet, roomPath(key), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CloseRoom disconnects every member of a live room and returns how many
// connections were closed
func (c *Client) CloseRoom(ctx context.Context, key domain.RoomKey) (int, error) {
	var resp api.CloseRoomResponse
	if err := c.do(ctx, http.MethodPost, roomPath(key)+"/close", nil, &resp); err != nil {
		return 0, err
	}
	return resp.ClosedConnections, nil
}

// RevokeToken revokes a token by id or by the token itself
func (c *Client) RevokeToken(ctx context.Context, req api.RevokeTokenRequest) (*api.RevokeTokenResponse, error) {
	var resp api.RevokeTokenResponse
	if err := c.do(ctx, http.MethodPost, "/admin/tokens/revoke", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func roomPath(key domain.RoomKey) string {
	return "/admin/rooms/" + url.PathEscape(key.ChatType) + "/" + url.PathEscape(key.ChatID)
}

// do sends in as JSON (when set) and decodes the response into out
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
