package notifier

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/model"
)

type stubStore struct {
	created   []model.Notification
	createErr error

	staffIDs []int64
	staffErr error
}

func (s *stubStore) CreateNotification(ctx context.Context, n model.Notification) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, n)
	return nil
}

func (s *stubStore) ListStaffIDs(ctx context.Context) ([]int64, error) {
	return s.staffIDs, s.staffErr
}

func TestNotify(t *testing.T) {
	store := &stubStore{}
	n := New(store, zap.NewNop())

	loanID := int64(7)
	n.Notify(context.Background(), 1, model.NotificationIssued, "issued", &loanID)

	if len(store.created) != 1 {
		t.Fatalf("created = %d, want 1", len(store.created))
	}
	got := store.created[0]
	if got.UserID != 1 || got.Kind != model.NotificationIssued || got.LoanID == nil || *got.LoanID != 7 {
		t.Fatalf("unexpected notification: %+v", got)
	}
}

func TestNotifyStoreErrorDoesNotPanic(t *testing.T) {
	store := &stubStore{createErr: errors.New("db down")}
	n := New(store, zap.NewNop())

	n.Notify(context.Background(), 1, model.NotificationReturned, "returned", nil)
}

func TestNotifyStaffBroadcast(t *testing.T) {
	store := &stubStore{staffIDs: []int64{2, 3, 5}}
	n := New(store, zap.NewNop())

	n.NotifyStaff(context.Background(), model.NotificationIssueRequest, "requested", nil)

	if len(store.created) != 3 {
		t.Fatalf("created = %d, want 3", len(store.created))
	}
	for i, id := range []int64{2, 3, 5} {
		if store.created[i].UserID != id {
			t.Fatalf("notification %d for user %d, want %d", i, store.created[i].UserID, id)
		}
	}
}

func TestNotifyStaffListError(t *testing.T) {
	store := &stubStore{staffErr: errors.New("db down")}
	n := New(store, zap.NewNop())

	n.NotifyStaff(context.Background(), model.NotificationIssueRequest, "requested", nil)

	if len(store.created) != 0 {
		t.Fatalf("no notifications expected, got %d", len(store.created))
	}
}
