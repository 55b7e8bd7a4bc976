// Package model содержит доменные сущности библиотечного сервиса.
package model

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// IsStaff сообщает, обладает ли роль правами библиотекаря.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Valid проверяет, что роль принадлежит множеству известных ролей.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleStaff || r == RoleAdmin
}

// User представляет зарегистрированного пользователя библиотеки.
type User struct {
	ID           int64
	Name         string
	Email        string
	Role         Role
	PasswordHash []byte
	CreatedAt    time.Time
}

// Book описывает книгу каталога и количество её экземпляров.
// Инвариант: 0 <= AvailableCopies <= TotalCopies.
type Book struct {
	ID              int64
	Title           string
	Author          string
	ISBN            string
	Genre           string
	TotalCopies     int
	AvailableCopies int
}

// IsAvailable сообщает, есть ли свободные экземпляры для выдачи.
func (b *Book) IsAvailable() bool {
	return b.AvailableCopies > 0
}

// LoanStatus описывает состояние записи о выдаче книги.
type LoanStatus string

const (
	LoanStatusRequested LoanStatus = "REQUESTED"
	LoanStatusIssued    LoanStatus = "ISSUED"
	LoanStatusReturned  LoanStatus = "RETURNED"
	LoanStatusRejected  LoanStatus = "REJECTED"
	LoanStatusOverdue   LoanStatus = "OVERDUE"
)

// Параметры жизненного цикла выдачи.
const (
	// DuePeriod — срок, на который книга выдаётся читателю.
	DuePeriod = 14 * 24 * time.Hour
	// ReissuePeriod — продление срока при каждом перевыпуске.
	ReissuePeriod = 7 * 24 * time.Hour
	// MaxReissues — максимальное число перевыпусков одной выдачи.
	MaxReissues = 3
)

// Loan описывает запись журнала выдач: от запроса до возврата.
type Loan struct {
	ID           int64
	BookID       int64
	UserID       int64
	ValidatorID  *int64
	RequestDate  time.Time
	IssueDate    *time.Time
	DueDate      *time.Time
	ReturnDate   *time.Time
	Status       LoanStatus
	ReissueCount int
	// LateFineCents — начисленный штраф за просрочку в копейках.
	LateFineCents int64
}

// Open сообщает, является ли выдача открытой: книга ещё не возвращена
// и запись не отклонена.
func (l *Loan) Open() bool {
	switch l.Status {
	case LoanStatusRequested, LoanStatusIssued, LoanStatusOverdue:
		return true
	default:
		return false
	}
}

// NotificationKind описывает тип уведомления.
type NotificationKind string

const (
	NotificationIssueRequest NotificationKind = "ISSUE_REQUEST"
	NotificationIssued       NotificationKind = "ISSUED"
	NotificationRejected     NotificationKind = "REJECTED"
	NotificationReturned     NotificationKind = "RETURNED"
	NotificationOverdue      NotificationKind = "OVERDUE"
)

// Notification описывает уведомление пользователя о событии выдачи.
type Notification struct {
	ID        int64
	UserID    int64
	Message   string
	Kind      NotificationKind
	LoanID    *int64
	IsRead    bool
	CreatedAt time.Time
}

// StaffStats содержит показатели панели библиотекаря.
type StaffStats struct {
	TotalBooks      int `json:"total_books"`
	AvailableBooks  int `json:"available_books"`
	TotalMembers    int `json:"total_members"`
	PendingRequests int `json:"pending_requests"`
	IssuedBooks     int `json:"issued_books"`
	OverdueBooks    int `json:"overdue_books"`
}

// MemberStats содержит показатели панели читателя.
type MemberStats struct {
	Issued    int `json:"total_issued"`
	Requested int `json:"total_requested"`
	Returned  int `json:"total_returned"`
	Overdue   int `json:"overdue_books"`
}
