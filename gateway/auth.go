package gateway

import (
	"context"
	"net/http"
)

// Login exchanges credentials for a token. It does not store the token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"Email": email, "Password": password}
	if err := c.do(ctx, http.MethodPost, "/users/login", "/users/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
