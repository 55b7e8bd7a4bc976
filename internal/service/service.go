// Package service реализует бизнес-логику библиотечного сервиса:
// каталог, учётные записи и жизненный цикл выдачи книг.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/fine"
	"github.com/mmeshcher/library-system/internal/lease"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/repository"
)

// ErrPermissionDenied возвращается, если роль пользователя не допускает операцию.
var (
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState возвращается при недопустимом переходе состояния выдачи.
	ErrInvalidState = errors.New("operation not allowed in current loan state")
	// ErrReissueLimitReached возвращается при исчерпании лимита перевыпусков.
	ErrReissueLimitReached = errors.New("reissue limit reached")
	// ErrLoanOverdue возвращается при попытке перевыпустить просроченную выдачу.
	ErrLoanOverdue = errors.New("overdue loan cannot be reissued")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRole возвращается при неизвестной роли пользователя.
	ErrInvalidRole = errors.New("invalid role")
)

// Store описывает контракт доступа к данным, используемый сервисом.
type Store interface {
	Close() error

	CreateUser(ctx context.Context, name, email string, role model.Role, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateBook(ctx context.Context, b *model.Book) (int64, error)
	UpdateBook(ctx context.Context, b *model.Book) error
	DeleteBook(ctx context.Context, id int64) error
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)

	CreateLoan(ctx context.Context, bookID, userID int64) (*model.Loan, error)
	GetLoan(ctx context.Context, id int64) (*model.Loan, error)
	IssueLoan(ctx context.Context, loanID, validatorID int64, issuedAt, dueAt time.Time) (*model.Loan, error)
	RejectLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error)
	ReturnLoan(ctx context.Context, loanID int64, returnedAt time.Time, fineCents int64) (*model.Loan, error)
	ReissueLoan(ctx context.Context, loanID int64, dueAt time.Time, reissueCount int) (*model.Loan, error)
	MarkLoanOverdue(ctx context.Context, loanID int64, now time.Time) (bool, error)
	ListLoans(ctx context.Context) ([]model.Loan, error)
	ListLoansByUser(ctx context.Context, userID int64) ([]model.Loan, error)
	ListOverdueLoans(ctx context.Context) ([]model.Loan, error)
	ListIssuedDueBefore(ctx context.Context, now time.Time) ([]model.Loan, error)

	GetStaffStats(ctx context.Context) (*model.StaffStats, error)
	GetMemberStats(ctx context.Context, userID int64) (*model.MemberStats, error)

	ListNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) error
}

// Notifier описывает контракт рассылки уведомлений. Реализация обязана быть
// fire-and-forget: ошибки доставки не должны влиять на вызывающую операцию.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind model.NotificationKind, message string, loanID *int64)
	NotifyStaff(ctx context.Context, kind model.NotificationKind, message string, loanID *int64)
}

// operation перечисляет привилегированные операции для проверки ролей.
type operation int

const (
	opManageBooks operation = iota
	opManageUsers
	opValidateLoan
	opViewAllLoans
)

// allowed — единая точка проверки «роль разрешает операцию».
func allowed(u *model.User, op operation) bool {
	switch op {
	case opManageUsers:
		return u.Role == model.RoleAdmin
	case opManageBooks, opValidateLoan, opViewAllLoans:
		return u.Role.IsStaff()
	default:
		return false
	}
}

// defaultLeaseWait ограничивает ожидание блокировки книги: при занятости
// операция завершается ошибкой ErrBusy, а не висит.
const defaultLeaseWait = 500 * time.Millisecond

// Service содержит бизнес-логику библиотечного сервиса.
type Service struct {
	store          Store
	notifier       Notifier
	logger         *zap.Logger
	leases         *lease.Keyed
	dailyFineCents int64
	leaseWait      time.Duration
	now            func() time.Time
}

// NewService создаёт сервис с указанным хранилищем и рассылкой уведомлений.
// dailyFineCents — ставка штрафа за каждый полный день просрочки.
func NewService(store Store, notifier Notifier, logger *zap.Logger, dailyFineCents int64) *Service {
	return &Service{
		store:          store,
		notifier:       notifier,
		logger:         logger,
		leases:         lease.NewKeyed(),
		dailyFineCents: dailyFineCents,
		leaseWait:      defaultLeaseWait,
		now:            time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// RegisterUser регистрирует нового читателя.
func (s *Service) RegisterUser(ctx context.Context, name, email, password string) (*model.User, error) {
	hashed := hashPassword(email, password)
	id, err := s.store.CreateUser(ctx, name, email, model.RoleMember, hashed)
	if err != nil {
		return nil, err
	}
	return &model.User{ID: id, Name: name, Email: email, Role: model.RoleMember}, nil
}

// CreateUser создаёт пользователя с произвольной ролью. Доступно только
// администратору.
func (s *Service) CreateUser(ctx context.Context, adminID int64, name, email, password string, role model.Role) (*model.User, error) {
	admin, err := s.store.GetUserByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if !allowed(admin, opManageUsers) {
		return nil, ErrPermissionDenied
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	hashed := hashPassword(email, password)
	id, err := s.store.CreateUser(ctx, name, email, role, hashed)
	if err != nil {
		return nil, err
	}
	return &model.User{ID: id, Name: name, Email: email, Role: role}, nil
}

// AuthenticateUser проверяет email и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(email, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// CreateBook добавляет книгу в каталог. Доступно библиотекарю и администратору.
func (s *Service) CreateBook(ctx context.Context, principalID int64, b *model.Book) (*model.Book, error) {
	if err := s.requireRole(ctx, principalID, opManageBooks); err != nil {
		return nil, err
	}

	id, err := s.store.CreateBook(ctx, b)
	if err != nil {
		return nil, err
	}
	return s.store.GetBook(ctx, id)
}

// UpdateBook обновляет сведения о книге.
func (s *Service) UpdateBook(ctx context.Context, principalID int64, b *model.Book) (*model.Book, error) {
	if err := s.requireRole(ctx, principalID, opManageBooks); err != nil {
		return nil, err
	}

	if err := s.store.UpdateBook(ctx, b); err != nil {
		return nil, err
	}
	return s.store.GetBook(ctx, b.ID)
}

// DeleteBook удаляет книгу без открытых выдач.
func (s *Service) DeleteBook(ctx context.Context, principalID, bookID int64) error {
	if err := s.requireRole(ctx, principalID, opManageBooks); err != nil {
		return err
	}
	return s.store.DeleteBook(ctx, bookID)
}

// GetBook возвращает книгу каталога.
func (s *Service) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	return s.store.GetBook(ctx, id)
}

// ListBooks возвращает каталог целиком.
func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	return s.store.ListBooks(ctx)
}

// RequestLoan создаёт запрос читателя на выдачу книги. Запрос отклоняется,
// если свободных экземпляров нет или у читателя уже есть открытая выдача
// этой книги.
func (s *Service) RequestLoan(ctx context.Context, bookID, borrowerID int64) (*model.Loan, error) {
	borrower, err := s.store.GetUserByID(ctx, borrowerID)
	if err != nil {
		return nil, err
	}

	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.IsAvailable() {
		return nil, repository.ErrNoCopiesAvailable
	}

	loan, err := s.store.CreateLoan(ctx, bookID, borrowerID)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyStaff(ctx, model.NotificationIssueRequest,
		fmt.Sprintf("%s has requested '%s'", borrower.Name, book.Title), &loan.ID)

	return loan, nil
}

// ApproveLoan выдаёт книгу по запросу читателя. Валидатором может быть
// только библиотекарь или администратор.
func (s *Service) ApproveLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error) {
	if err := s.requireRole(ctx, validatorID, opValidateLoan); err != nil {
		return nil, err
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	release, ok := s.leases.Acquire(ctx, loan.BookID, s.leaseWait)
	if !ok {
		return nil, repository.ErrBusy
	}
	defer release()

	// Перечитываем под блокировкой: состояние могло измениться.
	loan, err = s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanStatusRequested {
		return nil, ErrInvalidState
	}

	now := s.now()
	updated, err := s.store.IssueLoan(ctx, loanID, validatorID, now, now.Add(model.DuePeriod))
	if err != nil {
		return nil, mapStateConflict(err)
	}

	s.notifier.Notify(ctx, updated.UserID, model.NotificationIssued,
		fmt.Sprintf("Your request for '%s' has been approved", s.bookTitle(ctx, updated.BookID)), &updated.ID)

	return updated, nil
}

// RejectLoan отклоняет запрос читателя.
func (s *Service) RejectLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error) {
	if err := s.requireRole(ctx, validatorID, opValidateLoan); err != nil {
		return nil, err
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanStatusRequested {
		return nil, ErrInvalidState
	}

	updated, err := s.store.RejectLoan(ctx, loanID, validatorID)
	if err != nil {
		return nil, mapStateConflict(err)
	}

	s.notifier.Notify(ctx, updated.UserID, model.NotificationRejected,
		fmt.Sprintf("Your request for '%s' has been rejected", s.bookTitle(ctx, updated.BookID)), &updated.ID)

	return updated, nil
}

// ReturnLoan фиксирует возврат книги, начисляет штраф за просрочку и
// возвращает экземпляр в каталог.
func (s *Service) ReturnLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error) {
	if err := s.requireRole(ctx, validatorID, opValidateLoan); err != nil {
		return nil, err
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	release, ok := s.leases.Acquire(ctx, loan.BookID, s.leaseWait)
	if !ok {
		return nil, repository.ErrBusy
	}
	defer release()

	loan, err = s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanStatusIssued && loan.Status != model.LoanStatusOverdue {
		return nil, ErrInvalidState
	}
	if loan.DueDate == nil {
		return nil, ErrInvalidState
	}

	returnedAt := s.now()
	fineCents := fine.Compute(*loan.DueDate, returnedAt, s.dailyFineCents)

	updated, err := s.store.ReturnLoan(ctx, loanID, returnedAt, fineCents)
	if err != nil {
		return nil, mapStateConflict(err)
	}

	s.notifier.Notify(ctx, updated.UserID, model.NotificationReturned,
		fmt.Sprintf("You have returned '%s'", s.bookTitle(ctx, updated.BookID)), &updated.ID)

	return updated, nil
}

// ReissueLoan продлевает срок выдачи. Перевыпуск доступен читателю для его
// собственной выдачи либо библиотекарю; ограничен лимитом перевыпусков и
// запрещён для просроченных выдач.
func (s *Service) ReissueLoan(ctx context.Context, loanID, requesterID int64) (*model.Loan, error) {
	requester, err := s.store.GetUserByID(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if requester.ID != loan.UserID && !allowed(requester, opValidateLoan) {
		return nil, ErrPermissionDenied
	}

	release, ok := s.leases.Acquire(ctx, loan.BookID, s.leaseWait)
	if !ok {
		return nil, repository.ErrBusy
	}
	defer release()

	loan, err = s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != model.LoanStatusIssued && loan.Status != model.LoanStatusOverdue {
		return nil, ErrInvalidState
	}
	if loan.DueDate == nil {
		return nil, ErrInvalidState
	}
	if loan.ReissueCount >= model.MaxReissues {
		return nil, ErrReissueLimitReached
	}
	if s.now().After(*loan.DueDate) {
		return nil, ErrLoanOverdue
	}

	newDue := loan.DueDate.Add(model.ReissuePeriod)
	updated, err := s.store.ReissueLoan(ctx, loanID, newDue, loan.ReissueCount+1)
	if err != nil {
		return nil, mapStateConflict(err)
	}

	s.notifier.Notify(ctx, updated.UserID, model.NotificationIssued,
		fmt.Sprintf("'%s' has been reissued. New due date: %s",
			s.bookTitle(ctx, updated.BookID), newDue.Format("2006-01-02")), &updated.ID)

	return updated, nil
}

// GetLoan возвращает запись о выдаче. Читатель видит только свои записи.
func (s *Service) GetLoan(ctx context.Context, loanID, principalID int64) (*model.Loan, error) {
	principal, err := s.store.GetUserByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.UserID != principal.ID && !allowed(principal, opViewAllLoans) {
		return nil, ErrPermissionDenied
	}

	s.accrueFine(loan)
	return loan, nil
}

// accrueFine проставляет штраф, набежавший к текущему моменту по
// невозвращённой выдаче. Окончательная сумма фиксируется при возврате.
func (s *Service) accrueFine(l *model.Loan) {
	if l.DueDate == nil || l.ReturnDate != nil {
		return
	}
	switch l.Status {
	case model.LoanStatusIssued, model.LoanStatusOverdue:
		l.LateFineCents = fine.Compute(*l.DueDate, s.now(), s.dailyFineCents)
	}
}

func (s *Service) accrueFines(loans []model.Loan) []model.Loan {
	for i := range loans {
		s.accrueFine(&loans[i])
	}
	return loans
}

// ListLoans возвращает журнал выдач: библиотекарю — целиком, читателю —
// только его записи.
func (s *Service) ListLoans(ctx context.Context, principalID int64) ([]model.Loan, error) {
	principal, err := s.store.GetUserByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if allowed(principal, opViewAllLoans) {
		loans, err := s.store.ListLoans(ctx)
		if err != nil {
			return nil, err
		}
		return s.accrueFines(loans), nil
	}

	loans, err := s.store.ListLoansByUser(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return s.accrueFines(loans), nil
}

// ListOverdue возвращает просроченные выдачи. Доступно библиотекарю.
func (s *Service) ListOverdue(ctx context.Context, principalID int64) ([]model.Loan, error) {
	if err := s.requireRole(ctx, principalID, opViewAllLoans); err != nil {
		return nil, err
	}

	loans, err := s.store.ListOverdueLoans(ctx)
	if err != nil {
		return nil, err
	}
	return s.accrueFines(loans), nil
}

// SweepResult описывает исход обработки одной записи при обходе просрочек.
type SweepResult struct {
	Loan   *model.Loan
	Marked bool
	Err    error
}

// SweepOverdue переводит выданные книги с истёкшим сроком в статус OVERDUE.
// Записи обрабатываются независимо: ошибка по одной не прерывает обход
// остальных. Повторный запуск без изменений состояния ничего не помечает.
func (s *Service) SweepOverdue(ctx context.Context) ([]SweepResult, error) {
	now := s.now()

	due, err := s.store.ListIssuedDueBefore(ctx, now)
	if err != nil {
		return nil, err
	}

	results := make([]SweepResult, 0, len(due))
	for i := range due {
		loan := &due[i]
		res := SweepResult{Loan: loan}

		release, ok := s.leases.Acquire(ctx, loan.BookID, s.leaseWait)
		if !ok {
			res.Err = repository.ErrBusy
			results = append(results, res)
			continue
		}

		marked, err := s.store.MarkLoanOverdue(ctx, loan.ID, now)
		release()

		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}

		res.Marked = marked
		if marked {
			loan.Status = model.LoanStatusOverdue
			s.notifier.Notify(ctx, loan.UserID, model.NotificationOverdue,
				fmt.Sprintf("'%s' is overdue, please return it", s.bookTitle(ctx, loan.BookID)), &loan.ID)
		}
		results = append(results, res)
	}

	return results, nil
}

// RunOverdueSweep запускает обход просрочек по запросу библиотекаря.
func (s *Service) RunOverdueSweep(ctx context.Context, principalID int64) ([]SweepResult, error) {
	if err := s.requireRole(ctx, principalID, opViewAllLoans); err != nil {
		return nil, err
	}
	return s.SweepOverdue(ctx)
}

// StartOverdueSweeps запускает периодический обход просрочек. Интервал
// задаётся конфигурацией; нулевой интервал отключает обход.
func (s *Service) StartOverdueSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				results, err := s.SweepOverdue(ctx)
				if err != nil {
					s.logger.Error("overdue sweep failed", zap.Error(err))
					continue
				}
				marked := 0
				for _, r := range results {
					if r.Err != nil {
						s.logger.Warn("overdue sweep: loan skipped",
							zap.Int64("loanID", r.Loan.ID), zap.Error(r.Err))
						continue
					}
					if r.Marked {
						marked++
					}
				}
				if marked > 0 {
					s.logger.Info("overdue sweep finished", zap.Int("marked", marked))
				}
			}
		}
	}()
}

// DashboardStats содержит показатели панели: заполняется одна из частей
// в зависимости от роли пользователя.
type DashboardStats struct {
	Staff  *model.StaffStats
	Member *model.MemberStats
}

// Stats возвращает показатели панели для пользователя.
func (s *Service) Stats(ctx context.Context, principalID int64) (*DashboardStats, error) {
	principal, err := s.store.GetUserByID(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if principal.Role.IsStaff() {
		staff, err := s.store.GetStaffStats(ctx)
		if err != nil {
			return nil, err
		}
		return &DashboardStats{Staff: staff}, nil
	}

	member, err := s.store.GetMemberStats(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return &DashboardStats{Member: member}, nil
}

// ListNotifications возвращает уведомления пользователя.
func (s *Service) ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	return s.store.ListNotificationsByUser(ctx, userID)
}

// MarkNotificationRead помечает уведомление пользователя прочитанным.
func (s *Service) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	return s.store.MarkNotificationRead(ctx, id, userID)
}

// MarkAllNotificationsRead помечает все уведомления пользователя прочитанными.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID int64) error {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// requireRole загружает пользователя и проверяет, что роль допускает операцию.
func (s *Service) requireRole(ctx context.Context, principalID int64, op operation) error {
	principal, err := s.store.GetUserByID(ctx, principalID)
	if err != nil {
		return err
	}
	if !allowed(principal, op) {
		return ErrPermissionDenied
	}
	return nil
}

// mapStateConflict переводит конкурентный конфликт состояния в ErrInvalidState:
// для вызывающей стороны это та же ситуация «переход невозможен».
func mapStateConflict(err error) error {
	if errors.Is(err, repository.ErrLoanStateConflict) {
		return ErrInvalidState
	}
	return err
}

// bookTitle возвращает название книги для текста уведомления.
func (s *Service) bookTitle(ctx context.Context, bookID int64) string {
	b, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return fmt.Sprintf("book #%d", bookID)
	}
	return b.Title
}
