// Package notifier отвечает за создание уведомлений о событиях журнала выдач.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/model"
)

// Store описывает контракт хранения уведомлений.
type Store interface {
	CreateNotification(ctx context.Context, n model.Notification) error
	ListStaffIDs(ctx context.Context) ([]int64, error)
}

// Notifier создаёт уведомления через хранилище. Доставка выполняется по
// принципу fire-and-forget: ошибки записываются в лог и не прерывают
// операцию, породившую событие.
type Notifier struct {
	store  Store
	logger *zap.Logger
}

// New создаёт Notifier поверх указанного хранилища.
func New(store Store, logger *zap.Logger) *Notifier {
	return &Notifier{
		store:  store,
		logger: logger,
	}
}

// Notify создаёт уведомление для одного пользователя.
func (n *Notifier) Notify(ctx context.Context, userID int64, kind model.NotificationKind, message string, loanID *int64) {
	err := n.store.CreateNotification(ctx, model.Notification{
		UserID:  userID,
		Message: message,
		Kind:    kind,
		LoanID:  loanID,
	})
	if err != nil {
		n.logger.Error("create notification",
			zap.Error(err),
			zap.Int64("userID", userID),
			zap.String("kind", string(kind)),
		)
	}
}

// NotifyStaff создаёт уведомление для каждого библиотекаря и администратора.
func (n *Notifier) NotifyStaff(ctx context.Context, kind model.NotificationKind, message string, loanID *int64) {
	ids, err := n.store.ListStaffIDs(ctx)
	if err != nil {
		n.logger.Error("list staff for notification", zap.Error(err), zap.String("kind", string(kind)))
		return
	}

	for _, id := range ids {
		n.Notify(ctx, id, kind, message, loanID)
	}
}
