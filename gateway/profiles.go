package gateway

import (
	"context"
	"net/http"
	"net/url"
)

// CurrentProfile returns the signed-in user's profile.
func (c *Client) CurrentProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/user_profiles/", "/user_profiles/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile applies upd to the signed-in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodPut, "/user_profiles/", "/user_profiles/", upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublicProfile returns the public projection of username's profile.
func (c *Client) PublicProfile(ctx context.Context, username string) (*Profile, error) {
	var out Profile
	p := pathf("/user_profiles/public/%s", url.PathEscape(username))
	if err := c.do(ctx, http.MethodGet, p, "/user_profiles/public/:username", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
