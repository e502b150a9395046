package service

import (
	"errors"
	"fmt"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// Precondition failures: deterministic, not retryable without changed input.
var (
	ErrBookNotFound      = errors.New("book not found")
	ErrOutOfStock        = errors.New("no copies available")
	ErrLoanAlreadyActive = errors.New("borrower already has an open loan for this book")
	ErrInvalidDueDate    = errors.New("due date is in the past")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrAlreadyReturned   = errors.New("loan already returned")
	ErrNotAuthorized     = errors.New("not authorized to return this loan")
	ErrBelowBorrowed     = errors.New("total copies cannot drop below borrowed count")
	ErrDuplicateISBN     = errors.New("book with this ISBN already exists")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrBadCredentials    = errors.New("invalid email or password")
)

// ErrConflict is the single retryable failure kind: another transaction won
// the race on a versioned record. Re-read and reattempt at the boundary.
var ErrConflict = port.ErrConflict

// Integrity failures: a broken invariant slipped past the guards. Fatal,
// surfaced to the caller, never silently repaired.
var (
	ErrInventoryCorrupt = errors.New("available copies would exceed total copies")
	ErrExceedsTotal     = errors.New("increment would exceed total copies")
)

// AlreadyActiveError carries the loan that blocks a new borrow so the caller
// can show the borrower what they already hold.
type AlreadyActiveError struct {
	Existing *domain.Loan
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("%v (loan %s due %s)", ErrLoanAlreadyActive, e.Existing.ID, e.Existing.DueAt.Format("2006-01-02"))
}

func (e *AlreadyActiveError) Is(target error) bool {
	return target == ErrLoanAlreadyActive
}

// Retryable reports whether err is a transient concurrency conflict.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
