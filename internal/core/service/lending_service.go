package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// LendingService coordinates borrow, return and inventory revisions over the
// transactional store. It holds no state of its own between calls; all
// mutations run inside one Store.WithinTx scope and either commit together or
// abort with no partial writes. On ErrConflict the caller re-reads and
// reattempts (see Retry); the service never retries internally.
type LendingService struct {
	store        port.Store
	authz        port.Authorizer
	fines        domain.FineCalculator
	clock        Clock
	id           IDGen
	refreshQueue chan domain.Book
}

type Option func(*LendingService)

func WithClock(c Clock) Option {
	return func(s *LendingService) { s.clock = c }
}

func WithIDGen(g IDGen) Option {
	return func(s *LendingService) { s.id = g }
}

func NewLendingService(store port.Store, authz port.Authorizer, fines domain.FineCalculator, queueSize int, opts ...Option) *LendingService {
	s := &LendingService{
		store:        store,
		authz:        authz,
		fines:        fines,
		clock:        realClock{},
		id:           ulidGen{},
		refreshQueue: make(chan domain.Book, queueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CommittedBooks exposes books whose counters changed in a committed
// transaction, for asynchronous cache refresh.
func (s *LendingService) CommittedBooks() <-chan domain.Book {
	return s.refreshQueue
}

func (s *LendingService) Close() {
	close(s.refreshQueue)
}

// Borrow lends one copy of a book to a borrower. Within a single atomic
// scope: the book is read, availability and the one-open-loan invariant are
// checked, the loan is created and the available count decremented through
// compare-and-swap on the version read at the start. A concurrent writer on
// the same book aborts the whole scope with ErrConflict, so a loan record is
// never left behind without its matching decrement.
func (s *LendingService) Borrow(ctx context.Context, bookID, borrowerID string, dueAt time.Time) (*domain.Loan, error) {
	now := s.clock.Now()
	if dueAt.Before(now) {
		return nil, ErrInvalidDueDate
	}

	loanID, err := s.id.New()
	if err != nil {
		return nil, fmt.Errorf("generate loan id: %w", err)
	}

	var (
		loan    domain.Loan
		updated *domain.Book
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		book, err := tx.Books().GetBook(ctx, bookID)
		if err != nil {
			if errors.Is(err, port.ErrNotFound) {
				return ErrBookNotFound
			}
			return fmt.Errorf("read book: %w", err)
		}

		if !book.Available() {
			return ErrOutOfStock
		}

		existing, err := tx.Loans().FindOpenLoan(ctx, bookID, borrowerID)
		if err != nil && !errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("check open loan: %w", err)
		}
		if existing != nil {
			return &AlreadyActiveError{Existing: existing}
		}

		loan = domain.Loan{
			ID:         loanID,
			BookID:     bookID,
			BorrowerID: borrowerID,
			BorrowedAt: now,
			DueAt:      dueAt,
		}
		if err := tx.Loans().InsertLoan(ctx, loan); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				// Lost the check-then-insert race; the retrying caller will
				// observe the winner's loan on the next read.
				return ErrConflict
			}
			return fmt.Errorf("insert loan: %w", err)
		}

		updated, err = decrementAvailable(ctx, tx.Books(), *book)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.enqueueRefresh(*updated)
	return &loan, nil
}

// Return closes a loan and restores the copy to the shelf, all or nothing.
// The fine is computed from dueAt and observedAt and fixed on the loan at
// closure. A post-increment count above total aborts with
// ErrInventoryCorrupt: that state means a return was counted twice somewhere
// and must be investigated, not papered over.
func (s *LendingService) Return(ctx context.Context, loanID, requesterID string, observedAt time.Time) (*domain.Loan, error) {
	var (
		closed  domain.Loan
		updated *domain.Book
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		loan, err := tx.Loans().GetLoan(ctx, loanID)
		if err != nil {
			if errors.Is(err, port.ErrNotFound) {
				return ErrLoanNotFound
			}
			return fmt.Errorf("read loan: %w", err)
		}

		if loan.BorrowerID != requesterID {
			privileged, err := s.authz.IsPrivileged(ctx, requesterID)
			if err != nil {
				return fmt.Errorf("privilege check: %w", err)
			}
			if !privileged {
				return ErrNotAuthorized
			}
		}

		if !loan.Open() {
			return ErrAlreadyReturned
		}

		returnedAt := observedAt
		loan.ReturnedAt = &returnedAt
		loan.Fine = s.fines.Fine(loan.DueAt, observedAt)
		closedLoan, err := tx.Loans().CompareAndSwapLoan(ctx, *loan)
		if err != nil {
			return fmt.Errorf("close loan: %w", err)
		}
		closed = *closedLoan

		book, err := tx.Books().GetBook(ctx, loan.BookID)
		if err != nil {
			return fmt.Errorf("read book: %w", err)
		}
		updated, err = incrementAvailable(ctx, tx.Books(), *book)
		if errors.Is(err, ErrExceedsTotal) {
			return ErrInventoryCorrupt
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.enqueueRefresh(*updated)
	return &closed, nil
}

// ReviseTotalCopies changes a book's total copy count, adjusting the
// available count by the same difference in one atomic write. Shrinking
// below the currently borrowed count fails with ErrBelowBorrowed.
func (s *LendingService) ReviseTotalCopies(ctx context.Context, bookID string, newTotal int) (*domain.Book, error) {
	if newTotal < 0 {
		return nil, ErrBelowBorrowed
	}

	var updated *domain.Book
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		book, err := tx.Books().GetBook(ctx, bookID)
		if err != nil {
			if errors.Is(err, port.ErrNotFound) {
				return ErrBookNotFound
			}
			return fmt.Errorf("read book: %w", err)
		}
		updated, err = reviseTotal(ctx, tx.Books(), *book, newTotal)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.enqueueRefresh(*updated)
	return updated, nil
}

// CreateBook registers a new title with availableCopies = totalCopies.
func (s *LendingService) CreateBook(ctx context.Context, isbn, title, author string, totalCopies int) (*domain.Book, error) {
	if totalCopies < 0 {
		return nil, fmt.Errorf("total copies must be >= 0")
	}

	book := domain.Book{
		ID:              uuid.NewString(),
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		CreatedAt:       s.clock.Now(),
		UpdatedAt:       s.clock.Now(),
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		existing, err := tx.Books().GetBookByISBN(ctx, isbn)
		if err != nil && !errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("check isbn: %w", err)
		}
		if existing != nil {
			return ErrDuplicateISBN
		}
		if err := tx.Books().InsertBook(ctx, book); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				return ErrDuplicateISBN
			}
			return fmt.Errorf("insert book: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueueRefresh(book)
	return &book, nil
}

// GetBook reads current book state outside any transaction. The result may be
// stale by the time the caller acts on it and must not feed a write.
func (s *LendingService) GetBook(ctx context.Context, bookID string) (*domain.Book, error) {
	book, err := s.store.Books().GetBook(ctx, bookID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, ErrBookNotFound
	}
	return book, err
}

// ListLoans returns a borrower's loans, newest first.
func (s *LendingService) ListLoans(ctx context.Context, borrowerID string) ([]domain.Loan, error) {
	return s.store.Loans().ListLoansByBorrower(ctx, borrowerID)
}

// LoanStatus derives the status of a loan as observed at asOf.
func (s *LendingService) LoanStatus(ctx context.Context, loanID string, asOf time.Time) (domain.LoanStatus, error) {
	loan, err := s.store.Loans().GetLoan(ctx, loanID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return "", ErrLoanNotFound
		}
		return "", err
	}
	return loan.StatusAt(asOf), nil
}

// AccruedFine previews the fine a still-open loan would owe if returned at
// asOf. Fixed fines on returned loans are reported as stored.
func (s *LendingService) AccruedFine(loan domain.Loan, asOf time.Time) int64 {
	if !loan.Open() {
		return loan.Fine
	}
	return s.fines.Fine(loan.DueAt, asOf)
}

func (s *LendingService) enqueueRefresh(book domain.Book) {
	// Cache refresh is best effort; the snapshot cache tolerates staleness,
	// so drop rather than stall a committed request on backpressure.
	select {
	case s.refreshQueue <- book:
	default:
	}
}
