package gateway

import (
	"context"
	"net/http"
)

// CommunityStatus asks whether the signed-in user joined the Discord
// community.
func (c *Client) CommunityStatus(ctx context.Context) (*CommunityStatus, error) {
	var out CommunityStatus
	if err := c.do(ctx, http.MethodGet, "/discord/in_community_route", "/discord/in_community_route", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetInCommunity marks the signed-in user as a community member.
func (c *Client) SetInCommunity(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/discord/get_in_community", "/discord/get_in_community", nil, nil)
}
