// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/library-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже занятым email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookExists возвращается при попытке создать книгу с уже занятым ISBN.
	ErrBookExists = errors.New("book with this isbn already exists")
	// ErrBookNotFound возвращается, если книга не найдена.
	ErrBookNotFound = errors.New("book not found")
	// ErrBookHasOpenLoans возвращается при попытке удалить книгу с открытыми выдачами.
	ErrBookHasOpenLoans = errors.New("book has open loans")
	// ErrLoanNotFound возвращается, если запись о выдаче не найдена.
	ErrLoanNotFound = errors.New("loan not found")
	// ErrLoanStateConflict возвращается, если состояние выдачи изменилось
	// конкурентно и переход больше невозможен.
	ErrLoanStateConflict = errors.New("loan state conflict")
	// ErrNoCopiesAvailable возвращается, если свободных экземпляров книги нет.
	ErrNoCopiesAvailable = errors.New("no copies available")
	// ErrDuplicateActiveLoan возвращается, если у читателя уже есть открытая
	// выдача этой книги.
	ErrDuplicateActiveLoan = errors.New("active loan for this book already exists")
	// ErrNotificationNotFound возвращается, если уведомление не найдено.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrBusy возвращается при конфликте блокировок; операцию можно повторить.
	ErrBusy = errors.New("resource is busy, retry later")
)

const loanColumns = `id, book_id, user_id, validator_id, request_date, issue_date, due_date, return_date, status, reissue_count, late_fine`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// inTx выполняет fn внутри транзакции, повторяя её при конфликтах
// сериализации и взаимных блокировках.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			if isSerializationError(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if isSerializationError(err) {
				return retry.RetryableError(fmt.Errorf("commit tx: %w", err))
			}
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// lockBook захватывает строку книги без ожидания. Конфликт блокировок
// транслируется в ErrBusy.
func lockBook(ctx context.Context, tx pgx.Tx, bookID int64) error {
	var dummy int
	err := tx.QueryRow(ctx, `SELECT 1 FROM books WHERE id = $1 FOR UPDATE NOWAIT`, bookID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
			return ErrBusy
		}
		return fmt.Errorf("lock book: %w", err)
	}
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, name, email string, role model.Role, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, role, password_hash) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, email, string(role), passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, role, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, role, password_hash, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// ListStaffIDs возвращает идентификаторы всех библиотекарей и администраторов.
func (r *PostgresRepository) ListStaffIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE role IN ($1, $2)`,
		string(model.RoleStaff), string(model.RoleAdmin),
	)
	if err != nil {
		return nil, fmt.Errorf("select staff: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan staff id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// CreateBook добавляет книгу в каталог.
func (r *PostgresRepository) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO books (title, author, isbn, genre, total_copies, available_copies)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $5) RETURNING id`,
		b.Title, b.Author, b.ISBN, b.Genre, b.TotalCopies,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrBookExists, b.ISBN)
		}
		return 0, fmt.Errorf("create book: %w", err)
	}
	return id, nil
}

// UpdateBook обновляет сведения о книге. При изменении общего числа
// экземпляров число доступных сдвигается на ту же величину в пределах
// инварианта 0 <= available <= total.
func (r *PostgresRepository) UpdateBook(ctx context.Context, b *model.Book) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE books
		 SET title = $2,
		     author = $3,
		     isbn = NULLIF($4, ''),
		     genre = $5,
		     available_copies = GREATEST(LEAST(available_copies + $6 - total_copies, $6), 0),
		     total_copies = $6
		 WHERE id = $1`,
		b.ID, b.Title, b.Author, b.ISBN, b.Genre, b.TotalCopies,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrBookExists, b.ISBN)
		}
		return fmt.Errorf("update book: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBookNotFound
	}
	return nil
}

// DeleteBook удаляет книгу. Книга с открытыми выдачами не удаляется.
func (r *PostgresRepository) DeleteBook(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var hasOpen bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM loans
			     WHERE book_id = $1 AND status IN ($2, $3, $4)
			 )`,
			id,
			string(model.LoanStatusRequested),
			string(model.LoanStatusIssued),
			string(model.LoanStatusOverdue),
		).Scan(&hasOpen)
		if err != nil {
			return fmt.Errorf("check open loans: %w", err)
		}
		if hasOpen {
			return ErrBookHasOpenLoans
		}

		cmdTag, err := tx.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrBookNotFound
		}
		return nil
	})
}

// GetBook возвращает книгу по идентификатору.
func (r *PostgresRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, author, COALESCE(isbn, ''), genre, total_copies, available_copies
		 FROM books WHERE id = $1`,
		id,
	)

	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.TotalCopies, &b.AvailableCopies)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	return &b, nil
}

// ListBooks возвращает все книги каталога.
func (r *PostgresRepository) ListBooks(ctx context.Context) ([]model.Book, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author, COALESCE(isbn, ''), genre, total_copies, available_copies
		 FROM books ORDER BY title`,
	)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.TotalCopies, &b.AvailableCopies); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return books, nil
}

// CreateLoan создаёт запись о выдаче в статусе REQUESTED. Частичный
// уникальный индекс гарантирует не более одной открытой выдачи на пару
// (книга, читатель).
func (r *PostgresRepository) CreateLoan(ctx context.Context, bookID, userID int64) (*model.Loan, error) {
	var loan *model.Loan
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var available int
		err := tx.QueryRow(ctx,
			`SELECT available_copies FROM books WHERE id = $1`, bookID,
		).Scan(&available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBookNotFound
			}
			return fmt.Errorf("select book: %w", err)
		}
		if available <= 0 {
			return ErrNoCopiesAvailable
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO loans (book_id, user_id, status)
			 VALUES ($1, $2, $3)
			 RETURNING `+loanColumns,
			bookID, userID, string(model.LoanStatusRequested),
		)

		loan, err = scanLoan(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrDuplicateActiveLoan
			}
			return fmt.Errorf("insert loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// GetLoan возвращает запись о выдаче по идентификатору.
func (r *PostgresRepository) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id,
	)

	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// IssueLoan переводит запись REQUESTED в ISSUED и резервирует экземпляр книги.
// Проверки состояния и доступности повторяются в SQL, поэтому конкурентное
// изменение приводит к откату всей транзакции.
func (r *PostgresRepository) IssueLoan(ctx context.Context, loanID, validatorID int64, issuedAt, dueAt time.Time) (*model.Loan, error) {
	var loan *model.Loan
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var bookID int64
		err := tx.QueryRow(ctx, `SELECT book_id FROM loans WHERE id = $1`, loanID).Scan(&bookID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanNotFound
			}
			return fmt.Errorf("select loan: %w", err)
		}

		if err := lockBook(ctx, tx, bookID); err != nil {
			return err
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE books SET available_copies = available_copies - 1
			 WHERE id = $1 AND available_copies > 0`,
			bookID,
		)
		if err != nil {
			return fmt.Errorf("reserve copy: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrNoCopiesAvailable
		}

		row := tx.QueryRow(
			ctx,
			`UPDATE loans
			 SET status = $2, validator_id = $3, issue_date = $4, due_date = $5
			 WHERE id = $1 AND status = $6
			 RETURNING `+loanColumns,
			loanID, string(model.LoanStatusIssued), validatorID, issuedAt, dueAt,
			string(model.LoanStatusRequested),
		)

		loan, err = scanLoan(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanStateConflict
			}
			return fmt.Errorf("issue loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// RejectLoan переводит запись REQUESTED в REJECTED.
func (r *PostgresRepository) RejectLoan(ctx context.Context, loanID, validatorID int64) (*model.Loan, error) {
	var loan *model.Loan
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := loanExists(ctx, tx, loanID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`UPDATE loans SET status = $2, validator_id = $3
			 WHERE id = $1 AND status = $4
			 RETURNING `+loanColumns,
			loanID, string(model.LoanStatusRejected), validatorID,
			string(model.LoanStatusRequested),
		)

		var err error
		loan, err = scanLoan(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanStateConflict
			}
			return fmt.Errorf("reject loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ReturnLoan закрывает выдачу, фиксирует штраф и возвращает экземпляр книги
// в каталог. Число доступных экземпляров никогда не превышает общего.
func (r *PostgresRepository) ReturnLoan(ctx context.Context, loanID int64, returnedAt time.Time, fineCents int64) (*model.Loan, error) {
	var loan *model.Loan
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var bookID int64
		err := tx.QueryRow(ctx, `SELECT book_id FROM loans WHERE id = $1`, loanID).Scan(&bookID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanNotFound
			}
			return fmt.Errorf("select loan: %w", err)
		}

		if err := lockBook(ctx, tx, bookID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`UPDATE loans SET status = $2, return_date = $3, late_fine = $4
			 WHERE id = $1 AND status IN ($5, $6)
			 RETURNING `+loanColumns,
			loanID, string(model.LoanStatusReturned), returnedAt, fineCents,
			string(model.LoanStatusIssued), string(model.LoanStatusOverdue),
		)

		loan, err = scanLoan(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanStateConflict
			}
			return fmt.Errorf("return loan: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE books SET available_copies = LEAST(available_copies + 1, total_copies)
			 WHERE id = $1`,
			bookID,
		)
		if err != nil {
			return fmt.Errorf("release copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ReissueLoan продлевает срок открытой выдачи и нормализует статус в ISSUED.
func (r *PostgresRepository) ReissueLoan(ctx context.Context, loanID int64, dueAt time.Time, reissueCount int) (*model.Loan, error) {
	var loan *model.Loan
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := loanExists(ctx, tx, loanID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`UPDATE loans SET status = $2, due_date = $3, reissue_count = $4
			 WHERE id = $1 AND status IN ($5, $6)
			 RETURNING `+loanColumns,
			loanID, string(model.LoanStatusIssued), dueAt, reissueCount,
			string(model.LoanStatusIssued), string(model.LoanStatusOverdue),
		)

		var err error
		loan, err = scanLoan(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanStateConflict
			}
			return fmt.Errorf("reissue loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// MarkLoanOverdue переводит ISSUED-запись с истёкшим сроком в OVERDUE.
// Возвращает false, если запись уже переведена или срок ещё не истёк:
// повторный запуск обхода является no-op.
func (r *PostgresRepository) MarkLoanOverdue(ctx context.Context, loanID int64, now time.Time) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = $2
		 WHERE id = $1 AND status = $3 AND due_date < $4`,
		loanID, string(model.LoanStatusOverdue), string(model.LoanStatusIssued), now,
	)
	if err != nil {
		return false, fmt.Errorf("mark overdue: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func loanExists(ctx context.Context, tx pgx.Tx, loanID int64) error {
	var dummy int
	err := tx.QueryRow(ctx, `SELECT 1 FROM loans WHERE id = $1`, loanID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLoanNotFound
		}
		return fmt.Errorf("select loan: %w", err)
	}
	return nil
}

// ListLoans возвращает все записи журнала выдач.
func (r *PostgresRepository) ListLoans(ctx context.Context) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans ORDER BY request_date DESC`,
	)
}

// ListLoansByUser возвращает записи журнала выдач одного читателя.
func (r *PostgresRepository) ListLoansByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = $1 ORDER BY request_date DESC`,
		userID,
	)
}

// ListOverdueLoans возвращает записи в статусе OVERDUE.
func (r *PostgresRepository) ListOverdueLoans(ctx context.Context) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE status = $1 ORDER BY due_date`,
		string(model.LoanStatusOverdue),
	)
}

// ListIssuedDueBefore возвращает выданные книги, срок которых истёк к моменту now.
func (r *PostgresRepository) ListIssuedDueBefore(ctx context.Context, now time.Time) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE status = $1 AND due_date < $2 ORDER BY due_date`,
		string(model.LoanStatusIssued), now,
	)
}

func (r *PostgresRepository) queryLoans(ctx context.Context, query string, args ...any) ([]model.Loan, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, *loan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return loans, nil
}

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var l model.Loan
	var status string
	err := row.Scan(
		&l.ID, &l.BookID, &l.UserID, &l.ValidatorID,
		&l.RequestDate, &l.IssueDate, &l.DueDate, &l.ReturnDate,
		&status, &l.ReissueCount, &l.LateFineCents,
	)
	if err != nil {
		return nil, err
	}
	l.Status = model.LoanStatus(status)
	return &l, nil
}

// GetStaffStats возвращает счётчики панели библиотекаря.
func (r *PostgresRepository) GetStaffStats(ctx context.Context) (*model.StaffStats, error) {
	var s model.StaffStats

	err := r.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE available_copies > 0)
		 FROM books`,
	).Scan(&s.TotalBooks, &s.AvailableBooks)
	if err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE role = $1`,
		string(model.RoleMember),
	).Scan(&s.TotalMembers)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE status = $1),
		        count(*) FILTER (WHERE status = $2),
		        count(*) FILTER (WHERE status = $3)
		 FROM loans`,
		string(model.LoanStatusRequested),
		string(model.LoanStatusIssued),
		string(model.LoanStatusOverdue),
	).Scan(&s.PendingRequests, &s.IssuedBooks, &s.OverdueBooks)
	if err != nil {
		return nil, fmt.Errorf("count loans: %w", err)
	}

	return &s, nil
}

// GetMemberStats возвращает счётчики панели читателя.
func (r *PostgresRepository) GetMemberStats(ctx context.Context, userID int64) (*model.MemberStats, error) {
	var s model.MemberStats

	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE status = $2),
		        count(*) FILTER (WHERE status = $3),
		        count(*) FILTER (WHERE status = $4),
		        count(*) FILTER (WHERE status = $5)
		 FROM loans WHERE user_id = $1`,
		userID,
		string(model.LoanStatusIssued),
		string(model.LoanStatusRequested),
		string(model.LoanStatusReturned),
		string(model.LoanStatusOverdue),
	).Scan(&s.Issued, &s.Requested, &s.Returned, &s.Overdue)
	if err != nil {
		return nil, fmt.Errorf("count member loans: %w", err)
	}

	return &s, nil
}

// CreateNotification сохраняет уведомление пользователя.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n model.Notification) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (user_id, message, kind, loan_id)
		 VALUES ($1, $2, $3, $4)`,
		n.UserID, n.Message, string(n.Kind), n.LoanID,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotificationsByUser возвращает уведомления пользователя, новые первыми.
func (r *PostgresRepository) ListNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, message, kind, loan_id, is_read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &kind, &n.LoanID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = model.NotificationKind(kind)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationRead помечает уведомление пользователя прочитанным.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead помечает все уведомления пользователя прочитанными.
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
