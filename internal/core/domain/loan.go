package domain

import "time"

type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusOverdue  LoanStatus = "overdue"
	LoanStatusReturned LoanStatus = "returned"
)

// Loan records one lending of one book copy to one borrower. Status is not
// stored: it is derived from ReturnedAt and DueAt at observation time, so the
// record cannot drift from the timestamps that define it.
type Loan struct {
	ID         string
	BookID     string
	BorrowerID string
	BorrowedAt time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	Fine       int64 // fixed once returned
	Version    int64 // optimistic locking
}

// StatusAt derives the loan status as observed at asOf.
func (l Loan) StatusAt(asOf time.Time) LoanStatus {
	if l.ReturnedAt != nil {
		return LoanStatusReturned
	}
	if asOf.After(l.DueAt) {
		return LoanStatusOverdue
	}
	return LoanStatusActive
}

// Open reports whether the loan still counts against the one-active-loan-per
// (book, borrower) invariant.
func (l Loan) Open() bool {
	return l.ReturnedAt == nil
}
