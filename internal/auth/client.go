package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Authenticator resolves a bearer credential to an identity. Used at the
// request boundary and again at the websocket handshake.
type Authenticator interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

var ErrInvalidCredential = fmt.Errorf("invalid credential")

// Client talks to the identity collaborator over HTTP.
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		BaseURL: baseURL,
	}
}

func (c *Client) Verify(ctx context.Context, token string) (Identity, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity service: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return Identity{}, ErrInvalidCredential
	}
	if res.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("identity service: %s", res.Status)
	}
	var id Identity
	if err := json.NewDecoder(res.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("identity service: %w", err)
	}
	if id.Role == "" {
		id.Role = RoleCustomer
	}
	return id, nil
}
