package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/platform/db"
	"github.com/kiruthick0007/library-lending/internal/port"
)

const mysqlDuplicateEntry = 1062

// MySQLStore implements port.Store on MySQL. Compare-and-swap is a
// conditional UPDATE on the version column: zero rows affected means another
// writer got there first and the operation reports port.ErrConflict. The
// one-open-loan invariant is backed by the uq_open_loan index (see
// schema.sql), so a racing insert fails with a duplicate-entry error even if
// both transactions passed the read-time check.
type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(database *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: database}
}

func (m *MySQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	return db.RunInTx(ctx, m.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, sqlTx{q: tx})
	})
}

func (m *MySQLStore) Books() port.BookRepository { return sqlBooks{q: m.db} }
func (m *MySQLStore) Loans() port.LoanRepository { return sqlLoans{q: m.db} }
func (m *MySQLStore) Users() port.UserRepository { return sqlUsers{q: m.db} }

type sqlTx struct {
	q sqlx.ExtContext
}

func (t sqlTx) Books() port.BookRepository { return sqlBooks{q: t.q} }
func (t sqlTx) Loans() port.LoanRepository { return sqlLoans{q: t.q} }
func (t sqlTx) Users() port.UserRepository { return sqlUsers{q: t.q} }

type bookRow struct {
	ID              string    `db:"id"`
	ISBN            string    `db:"isbn"`
	Title           string    `db:"title"`
	Author          string    `db:"author"`
	TotalCopies     int       `db:"total_copies"`
	AvailableCopies int       `db:"available_copies"`
	Version         int64     `db:"version"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r bookRow) toDomain() *domain.Book {
	return &domain.Book{
		ID:              r.ID,
		ISBN:            r.ISBN,
		Title:           r.Title,
		Author:          r.Author,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type sqlBooks struct {
	q sqlx.ExtContext
}

const selectBook = `
	SELECT id, isbn, title, author, total_copies, available_copies, version, created_at, updated_at
	FROM books`

func (r sqlBooks) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	var row bookRow
	err := sqlx.GetContext(ctx, r.q, &row, selectBook+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	return row.toDomain(), nil
}

func (r sqlBooks) GetBookByISBN(ctx context.Context, isbn string) (*domain.Book, error) {
	var row bookRow
	err := sqlx.GetContext(ctx, r.q, &row, selectBook+` WHERE isbn = ?`, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query book by isbn: %w", err)
	}
	return row.toDomain(), nil
}

func (r sqlBooks) InsertBook(ctx context.Context, book domain.Book) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, author, total_copies, available_copies, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.ISBN, book.Title, book.Author,
		book.TotalCopies, book.AvailableCopies, book.Version,
		book.CreatedAt, book.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (r sqlBooks) CompareAndSwapBook(ctx context.Context, book domain.Book) (*domain.Book, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE books
		SET total_copies = ?, available_copies = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		book.TotalCopies, book.AvailableCopies, book.ID, book.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, port.ErrConflict
	}

	book.Version++
	return &book, nil
}

type loanRow struct {
	ID         string     `db:"id"`
	BookID     string     `db:"book_id"`
	BorrowerID string     `db:"borrower_id"`
	BorrowedAt time.Time  `db:"borrowed_at"`
	DueAt      time.Time  `db:"due_at"`
	ReturnedAt *time.Time `db:"returned_at"`
	Fine       int64      `db:"fine"`
	Version    int64      `db:"version"`
}

func (r loanRow) toDomain() *domain.Loan {
	return &domain.Loan{
		ID:         r.ID,
		BookID:     r.BookID,
		BorrowerID: r.BorrowerID,
		BorrowedAt: r.BorrowedAt,
		DueAt:      r.DueAt,
		ReturnedAt: r.ReturnedAt,
		Fine:       r.Fine,
		Version:    r.Version,
	}
}

type sqlLoans struct {
	q sqlx.ExtContext
}

const selectLoan = `
	SELECT id, book_id, borrower_id, borrowed_at, due_at, returned_at, fine, version
	FROM loans`

func (r sqlLoans) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	var row loanRow
	err := sqlx.GetContext(ctx, r.q, &row, selectLoan+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query loan: %w", err)
	}
	return row.toDomain(), nil
}

func (r sqlLoans) FindOpenLoan(ctx context.Context, bookID, borrowerID string) (*domain.Loan, error) {
	var row loanRow
	err := sqlx.GetContext(ctx, r.q, &row,
		selectLoan+` WHERE book_id = ? AND borrower_id = ? AND returned_at IS NULL`,
		bookID, borrowerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open loan: %w", err)
	}
	return row.toDomain(), nil
}

func (r sqlLoans) InsertLoan(ctx context.Context, loan domain.Loan) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO loans (id, book_id, borrower_id, borrowed_at, due_at, returned_at, fine, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.BookID, loan.BorrowerID, loan.BorrowedAt, loan.DueAt,
		loan.ReturnedAt, loan.Fine, loan.Version,
	)
	if isDuplicateEntry(err) {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (r sqlLoans) CompareAndSwapLoan(ctx context.Context, loan domain.Loan) (*domain.Loan, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE loans
		SET returned_at = ?, fine = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		loan.ReturnedAt, loan.Fine, loan.ID, loan.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, port.ErrConflict
	}

	loan.Version++
	return &loan, nil
}

func (r sqlLoans) ListLoansByBorrower(ctx context.Context, borrowerID string) ([]domain.Loan, error) {
	var rows []loanRow
	err := sqlx.SelectContext(ctx, r.q, &rows,
		selectLoan+` WHERE borrower_id = ? ORDER BY borrowed_at DESC`,
		borrowerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	loans := make([]domain.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, *row.toDomain())
	}
	return loans, nil
}

type userRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         domain.Role(r.Role),
		CreatedAt:    r.CreatedAt,
	}
}

type sqlUsers struct {
	q sqlx.ExtContext
}

const selectUser = `
	SELECT id, name, email, password_hash, role, created_at
	FROM users`

func (r sqlUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, r.q, &row, selectUser+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return row.toDomain(), nil
}

func (r sqlUsers) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, r.q, &row, selectUser+` WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return row.toDomain(), nil
}

func (r sqlUsers) InsertUser(ctx context.Context, user domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), user.CreatedAt,
	)
	if isDuplicateEntry(err) {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
