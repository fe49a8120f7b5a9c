package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kasuganosora/tovplay/gateway"
)

// Backend is the notification part of the API.
type Backend interface {
	Notifications(ctx context.Context) ([]gateway.Notification, error)
	MarkNotificationsRead(ctx context.Context, ids []gateway.ID) error
}

// Store is the local copy of the notification feed, newest first.
type Store struct {
	backend Backend

	mu     sync.Mutex
	items  []gateway.Notification
	unread int
	subs   []func()
}

// NewStore creates an empty Store.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func newestFirst(a, b gateway.Notification) int {
	return b.CreatedAt.Compare(a.CreatedAt)
}

func countUnread(items []gateway.Notification) int {
	n := 0
	for _, it := range items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// OnChange registers fn to run after the feed changes.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.mu.Lock()
	subs := slices.Clone(s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Sync replaces the feed with the server's.
func (s *Store) Sync(ctx context.Context) error {
	items, err := s.backend.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("notify: fetch: %w", err)
	}
	slices.SortStableFunc(items, newestFirst)
	s.mu.Lock()
	s.items = items
	s.unread = countUnread(items)
	s.mu.Unlock()
	s.changed()
	return nil
}

// Receive prepends a pushed notification. Duplicates of an id already in
// the feed are ignored.
func (s *Store) Receive(n gateway.Notification) {
	s.mu.Lock()
	if n.ID != "" && slices.ContainsFunc(s.items, func(it gateway.Notification) bool { return it.ID == n.ID }) {
		s.mu.Unlock()
		return
	}
	if n.Type != gateway.NotificationSessionCancellation {
		n.CancellationReason = ""
	}
	s.items = append([]gateway.Notification{n}, s.items...)
	if !n.IsRead {
		s.unread++
	}
	s.mu.Unlock()
	s.changed()
}

// MarkRead marks ids read on the server and then locally.
func (s *Store) MarkRead(ctx context.Context, ids ...gateway.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.backend.MarkNotificationsRead(ctx, ids); err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	s.mu.Lock()
	for i := range s.items {
		if slices.Contains(ids, s.items[i].ID) {
			s.items[i].IsRead = true
		}
	}
	s.unread = countUnread(s.items)
	s.mu.Unlock()
	s.changed()
	return nil
}

// MarkAllReadLocal marks everything read without telling the server.
func (s *Store) MarkAllReadLocal() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].IsRead = true
	}
	s.unread = 0
	s.mu.Unlock()
	s.changed()
}

// List returns a copy of the feed.
func (s *Store) List() []gateway.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Unread returns the unread count.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// UnreadIDs returns the ids of unread notifications.
func (s *Store) UnreadIDs() []gateway.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []gateway.ID
	for _, it := range s.items {
		if !it.IsRead {
			ids = append(ids, it.ID)
		}
	}
	return ids
}
