// Package handler содержит HTTP-обработчики API библиотечного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/service"
	"github.com/mmeshcher/library-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, name, email, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	CreateUser(ctx context.Context, adminID int64, name, email, password string, role model.Role) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)

	ListBooks(ctx context.Context) ([]model.Book, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	CreateBook(ctx context.Context, principalID int64, b *model.Book) (*model.Book, error)
	UpdateBook(ctx context.Context, principalID int64, b *model.Book) (*model.Book, error)
	DeleteBook(ctx context.Context, principalID, bookID int64) error

	RequestLoan(ctx context.Context, bookID, borrowerID int64) (*model.Loan, error)
	ApproveLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error)
	RejectLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error)
	ReturnLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error)
	ReissueLoan(ctx context.Context, loanID, requesterID int64) (*model.Loan, error)
	GetLoan(ctx context.Context, loanID, principalID int64) (*model.Loan, error)
	ListLoans(ctx context.Context, principalID int64) ([]model.Loan, error)
	ListOverdue(ctx context.Context, principalID int64) ([]model.Loan, error)
	RunOverdueSweep(ctx context.Context, principalID int64) ([]service.SweepResult, error)

	Stats(ctx context.Context, principalID int64) (*service.DashboardStats, error)

	ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) error
}

// Handler реализует HTTP-обработчики API библиотечного сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrBookNotFound),
		errors.Is(err, repository.ErrLoanNotFound),
		errors.Is(err, repository.ErrNotificationNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)

	case errors.Is(err, service.ErrPermissionDenied):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)

	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

	case errors.Is(err, service.ErrInvalidRole):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrReissueLimitReached),
		errors.Is(err, service.ErrLoanOverdue),
		errors.Is(err, repository.ErrDuplicateActiveLoan),
		errors.Is(err, repository.ErrNoCopiesAvailable),
		errors.Is(err, repository.ErrBookHasOpenLoans),
		errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrBookExists):
		http.Error(w, err.Error(), http.StatusConflict)

	case errors.Is(err, repository.ErrBusy):
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func principalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

type userResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  string(u.Role),
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает самостоятельную регистрацию читателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusCreated, toUserResponse(u))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Logout удаляет cookie аутентификации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetUser(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserResponse(u))
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser создаёт пользователя с указанной ролью. Доступно администратору.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := principalID(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.CreateUser(r.Context(), adminID, req.Name, req.Email, req.Password, model.Role(req.Role))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toUserResponse(u))
}

type bookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Genre       string `json:"genre"`
	TotalCopies int    `json:"total_copies"`
}

type bookResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn,omitempty"`
	Genre           string `json:"genre"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func decodeBookRequest(w http.ResponseWriter, r *http.Request) (*bookRequest, bool) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	if req.Title == "" || req.Author == "" || req.TotalCopies < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	if req.ISBN != "" && !validation.IsValidISBN(req.ISBN) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return nil, false
	}

	return &req, true
}

// ListBooks возвращает каталог книг.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for i := range books {
		resp = append(resp, toBookResponse(&books[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetBook возвращает книгу по идентификатору.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBookResponse(book))
}

// CreateBook добавляет книгу в каталог.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	req, ok := decodeBookRequest(w, r)
	if !ok {
		return
	}

	book, err := h.service.CreateBook(r.Context(), principal, &model.Book{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Genre:       req.Genre,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// UpdateBook обновляет сведения о книге.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	req, ok := decodeBookRequest(w, r)
	if !ok {
		return
	}

	book, err := h.service.UpdateBook(r.Context(), principal, &model.Book{
		ID:          id,
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Genre:       req.Genre,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toBookResponse(book))
}

// DeleteBook удаляет книгу без открытых выдач.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBook(r.Context(), principal, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loanResponse struct {
	ID           int64   `json:"id"`
	BookID       int64   `json:"book_id"`
	UserID       int64   `json:"user_id"`
	ValidatorID  *int64  `json:"validator_id,omitempty"`
	RequestDate  string  `json:"request_date"`
	IssueDate    *string `json:"issue_date,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	ReturnDate   *string `json:"return_date,omitempty"`
	Status       string  `json:"status"`
	ReissueCount int     `json:"reissue_count"`
	LateFine     float64 `json:"late_fine"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toLoanResponse(l *model.Loan) loanResponse {
	return loanResponse{
		ID:           l.ID,
		BookID:       l.BookID,
		UserID:       l.UserID,
		ValidatorID:  l.ValidatorID,
		RequestDate:  l.RequestDate.Format(time.RFC3339),
		IssueDate:    formatTime(l.IssueDate),
		DueDate:      formatTime(l.DueDate),
		ReturnDate:   formatTime(l.ReturnDate),
		Status:       string(l.Status),
		ReissueCount: l.ReissueCount,
		LateFine:     float64(l.LateFineCents) / 100,
	}
}

func (h *Handler) writeLoans(w http.ResponseWriter, loans []model.Loan) {
	resp := make([]loanResponse, 0, len(loans))
	for i := range loans {
		resp = append(resp, toLoanResponse(&loans[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// RequestLoan создаёт запрос текущего пользователя на выдачу книги.
func (h *Handler) RequestLoan(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	bookID, ok := pathID(w, r)
	if !ok {
		return
	}

	loan, err := h.service.RequestLoan(r.Context(), bookID, principal)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

// loanAction описывает обработчик перехода состояния выдачи.
type loanAction func(ctx context.Context, loanID, principalID int64) (*model.Loan, error)

func (h *Handler) handleLoanAction(w http.ResponseWriter, r *http.Request, action loanAction) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	loanID, ok := pathID(w, r)
	if !ok {
		return
	}

	loan, err := action(r.Context(), loanID, principal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// ApproveLoan выдаёт книгу по запросу.
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	h.handleLoanAction(w, r, h.service.ApproveLoan)
}

// RejectLoan отклоняет запрос на выдачу.
func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	h.handleLoanAction(w, r, h.service.RejectLoan)
}

// ReturnLoan фиксирует возврат книги.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	h.handleLoanAction(w, r, h.service.ReturnLoan)
}

// ReissueLoan продлевает срок выдачи.
func (h *Handler) ReissueLoan(w http.ResponseWriter, r *http.Request) {
	h.handleLoanAction(w, r, h.service.ReissueLoan)
}

// GetLoan возвращает запись о выдаче.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	h.handleLoanAction(w, r, h.service.GetLoan)
}

// ListLoans возвращает журнал выдач текущего пользователя (или весь журнал
// для библиотекаря).
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	loans, err := h.service.ListLoans(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeLoans(w, loans)
}

// ListOverdue возвращает просроченные выдачи.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	loans, err := h.service.ListOverdue(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeLoans(w, loans)
}

type sweepResultResponse struct {
	LoanID int64  `json:"loan_id"`
	Marked bool   `json:"marked"`
	Error  string `json:"error,omitempty"`
}

// SweepOverdue запускает обход просрочек по запросу библиотекаря.
func (h *Handler) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	results, err := h.service.RunOverdueSweep(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]sweepResultResponse, 0, len(results))
	for _, res := range results {
		item := sweepResultResponse{LoanID: res.Loan.ID, Marked: res.Marked}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp = append(resp, item)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Stats возвращает показатели панели для текущего пользователя.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if stats.Staff != nil {
		h.writeJSON(w, http.StatusOK, stats.Staff)
		return
	}
	h.writeJSON(w, http.StatusOK, stats.Member)
}

type notificationResponse struct {
	ID        int64  `json:"id"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	LoanID    *int64 `json:"loan_id,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// ListNotifications возвращает уведомления текущего пользователя.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	notifications, err := h.service.ListNotifications(r.Context(), principal)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			Message:   n.Message,
			Kind:      string(n.Kind),
			LoanID:    n.LoanID,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// MarkNotificationRead помечает уведомление прочитанным.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), id, principal); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// MarkAllNotificationsRead помечает все уведомления прочитанными.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkAllNotificationsRead(r.Context(), principal); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
