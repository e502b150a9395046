package port

import (
	"context"
	"errors"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
)

var (
	// ErrConflict is reported when a compare-and-swap write observes a stale
	// version. Callers must re-read and reattempt the whole operation, never
	// reapply the stale mutation.
	ErrConflict = errors.New("optimistic lock conflict")

	// ErrNotFound is reported when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is reported when an insert violates a uniqueness rule
	// (ISBN, email, or the one-open-loan-per-pair invariant).
	ErrDuplicate = errors.New("duplicate record")
)

type BookRepository interface {
	// GetBook returns the book with its current version.
	GetBook(ctx context.Context, id string) (*domain.Book, error)

	InsertBook(ctx context.Context, book domain.Book) error

	GetBookByISBN(ctx context.Context, isbn string) (*domain.Book, error)

	// CompareAndSwapBook writes book only if the stored version still equals
	// book.Version, bumping the version by one. Returns ErrConflict otherwise.
	CompareAndSwapBook(ctx context.Context, book domain.Book) (*domain.Book, error)
}

type LoanRepository interface {
	GetLoan(ctx context.Context, id string) (*domain.Loan, error)

	// FindOpenLoan returns the not-yet-returned loan for the pair, or
	// ErrNotFound. The check is only race-free inside a transaction scope.
	FindOpenLoan(ctx context.Context, bookID, borrowerID string) (*domain.Loan, error)

	// InsertLoan persists a new loan. Returns ErrDuplicate if an open loan
	// for the same (book, borrower) pair already exists at commit time.
	InsertLoan(ctx context.Context, loan domain.Loan) error

	// CompareAndSwapLoan writes loan conditionally on loan.Version,
	// like CompareAndSwapBook.
	CompareAndSwapLoan(ctx context.Context, loan domain.Loan) (*domain.Loan, error)

	ListLoansByBorrower(ctx context.Context, borrowerID string) ([]domain.Loan, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	InsertUser(ctx context.Context, user domain.User) error
}

// Tx is the repository set bound to one atomic scope.
type Tx interface {
	Books() BookRepository
	Loans() LoanRepository
	Users() UserRepository
}

// Store opens atomic multi-record scopes. All writes performed inside fn
// commit together or not at all; a version conflict anywhere aborts the
// scope with ErrConflict and no side effects.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
