package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
)

// InboxSize is the number of notifications pushed to websocket clients.
const InboxSize = 50

// Pusher delivers refresh triggers to a user's open connections.
type Pusher interface {
	Refresh(ctx context.Context, email string)
}

type Service struct {
	repo   Repository
	tx     db.Transactor
	pusher Pusher
}

func NewService(repo Repository, tx db.Transactor, pusher Pusher) *Service {
	return &Service{repo: repo, tx: tx, pusher: pusher}
}

// Record stores a notification for the given recipients. Duplicate
// recipients are collapsed. It joins a transaction already present in ctx,
// so callers can store the notification atomically with the change it
// reports. It returns nil when there is nobody to notify.
func (s *Service) Record(ctx context.Context, sender *uuid.UUID, title, message string, to []Recipient) (*Notification, error) {
	ids := make([]uuid.UUID, 0, len(to))
	seen := make(map[uuid.UUID]bool, len(to))
	for _, r := range to {
		if r.ID == uuid.Nil || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	n := &Notification{SenderID: sender, Title: title, Message: message}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, n, ids)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Deliver pushes the notification and appointment refresh triggers to every
// recipient. It must run after the notification is committed.
func (s *Service) Deliver(ctx context.Context, to []Recipient) {
	if s.pusher == nil {
		return
	}
	seen := make(map[string]bool, len(to))
	for _, r := range to {
		if r.Email == "" || seen[r.Email] {
			continue
		}
		seen[r.Email] = true
		s.pusher.Refresh(ctx, r.Email)
	}
}

// Notify records a notification and delivers it.
func (s *Service) Notify(ctx context.Context, sender *uuid.UUID, title, message string, to []Recipient) (*Notification, error) {
	n, err := s.Record(ctx, sender, title, message, to)
	if err != nil || n == nil {
		return n, err
	}
	s.Deliver(ctx, to)
	return n, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, int, error) {
	items, total, err := s.repo.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, 0, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return items, total, unread, nil
}

// Inbox returns the latest notifications with the unread count.
func (s *Service) Inbox(ctx context.Context, userID uuid.UUID) (*Inbox, error) {
	items, _, unread, err := s.List(ctx, userID, InboxSize, 0)
	if err != nil {
		return nil, err
	}
	return &Inbox{Notifications: items, UnreadCount: unread}, nil
}

func (s *Service) MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	ok, err := s.repo.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("notification not found")
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
