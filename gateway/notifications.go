package gateway

import (
	"context"
	"net/http"
)

// Notifications returns the signed-in user's notification feed.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := c.do(ctx, http.MethodGet, "/notifications/", "/notifications/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationsRead flags ids as read.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []ID) error {
	if ids == nil {
		ids = []ID{}
	}
	return c.do(ctx, http.MethodPost, "/notifications/mark_read", "/notifications/mark_read", ids, nil)
}
