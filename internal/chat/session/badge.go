package session

import (
	"context"
	"fmt"
	"sync"
)

// BadgeAPI device badge collaborator
type BadgeAPI interface {
	BadgeCount(ctx context.Context) (int, error)
	SetBadgeCount(ctx context.Context, n int) error
}

// BadgeReconciler keep device badge equal to total unread of joined rooms
type BadgeReconciler struct {
	api     BadgeAPI
	counter *UnreadCounter

	mu sync.Mutex
}

// NewBadgeReconciler create BadgeReconciler
func NewBadgeReconciler(api BadgeAPI, counter *UnreadCounter) *BadgeReconciler {
	return &BadgeReconciler{api: api, counter: counter}
}

// SetBadgeCount set badge, negative value become 0
func (r *BadgeReconciler) SetBadgeCount(ctx context.Context, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.api.SetBadgeCount(ctx, max(n, 0))
}

// DecrementBadgeCount decrease badge by n, floored at 0
func (r *BadgeReconciler) DecrementBadgeCount(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.api.BadgeCount(ctx)
	if err != nil {
		return fmt.Errorf("read badge: %w", err)
	}
	return r.api.SetBadgeCount(ctx, max(cur-n, 0))
}

// Reconcile set badge to sum of unread counts of rooms, badge untouched when any count fails
func (r *BadgeReconciler) Reconcile(ctx context.Context, rooms []string) (int, error) {
	total := 0
	for _, roomID := range rooms {
		n, err := r.counter.Count(ctx, roomID)
		if err != nil {
			return 0, fmt.Errorf("count unread %s: %w", roomID, err)
		}
		total += n
	}
	if err := r.SetBadgeCount(ctx, total); err != nil {
		return 0, err
	}
	return total, nil
}
