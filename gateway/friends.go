package gateway

import (
	"context"
	"net/http"
	"net/url"
)

type sendRequestBody struct {
	RecipientUsername string `json:"recipient_username"`
	Message           string `json:"message,omitempty"`
}

type respondBody struct {
	AcceptInvite bool `json:"accept_invite"`
}

type blockBody struct {
	UsernameToBlock string `json:"username_to_block"`
	Message         string `json:"message,omitempty"`
}

type unblockBody struct {
	RequestID         *string `json:"request_id"`
	UsernameToUnblock string  `json:"username_to_unblock"`
}

// CheckRelationship returns the server's view of the relationship between
// the signed-in user and username.
func (c *Client) CheckRelationship(ctx context.Context, username string) (*Relationship, error) {
	var out Relationship
	p := pathf("/friends/check_relationship/%s", url.PathEscape(username))
	if err := c.do(ctx, http.MethodGet, p, "/friends/check_relationship/:username", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendFriendRequest creates a friend request. An empty message is omitted.
func (c *Client) SendFriendRequest(ctx context.Context, recipient, message string) (*FriendRequest, error) {
	var out FriendRequest
	body := sendRequestBody{RecipientUsername: recipient, Message: message}
	if err := c.do(ctx, http.MethodPost, "/friends/request", "/friends/request", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelFriendRequest deletes an outgoing request.
func (c *Client) CancelFriendRequest(ctx context.Context, requestID string) error {
	p := pathf("/friends/request/%s", url.PathEscape(requestID))
	return c.do(ctx, http.MethodDelete, p, "/friends/request/:id", nil, nil)
}

// RespondToFriendRequest accepts or declines an incoming request.
func (c *Client) RespondToFriendRequest(ctx context.Context, requestID string, accept bool) (*Relationship, error) {
	var out Relationship
	p := pathf("/friends/accept/%s", url.PathEscape(requestID))
	if err := c.do(ctx, http.MethodPut, p, "/friends/accept/:id", respondBody{AcceptInvite: accept}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockUser blocks username. reason may be empty.
func (c *Client) BlockUser(ctx context.Context, username, reason string) error {
	body := blockBody{UsernameToBlock: username, Message: reason}
	return c.do(ctx, http.MethodPut, "/friends/block", "/friends/block", body, nil)
}

// UnblockUser lifts a block. A requestID of "" or "None" is sent as null.
func (c *Client) UnblockUser(ctx context.Context, requestID, username string) error {
	body := unblockBody{UsernameToUnblock: username}
	if id := Sanitize(requestID); id != "" {
		body.RequestID = &id
	}
	return c.do(ctx, http.MethodPut, "/friends/unblock", "/friends/unblock", body, nil)
}

// Friends lists accepted friends.
func (c *Client) Friends(ctx context.Context) ([]Friend, error) {
	var out []Friend
	if err := c.do(ctx, http.MethodGet, "/friends/friends", "/friends/friends", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReceivedRequests lists pending incoming requests.
func (c *Client) ReceivedRequests(ctx context.Context) ([]FriendRequest, error) {
	var out []FriendRequest
	if err := c.do(ctx, http.MethodGet, "/friends/received_requests", "/friends/received_requests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OverlappingTimes returns availability slots shared with recipient.
func (c *Client) OverlappingTimes(ctx context.Context, recipient string) (*OverlappingTimes, error) {
	var out OverlappingTimes
	p := "/findplayers/?" + url.Values{"recipient_username": {recipient}}.Encode()
	if err := c.do(ctx, http.MethodGet, p, "/findplayers/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
