// Package memstore is an in-memory implementation of port.Store with
// optimistic concurrency control. A transaction runs without holding any
// lock: reads take a snapshot of the record and its version, writes go
// through compare-and-swap and are staged inside the transaction. At commit
// every staged write is validated against the live store under a single lock
// and either all writes apply, each bumping its record's version by exactly
// one, or nothing applies and the scope reports port.ErrConflict.
package memstore

import (
	"context"
	"sync"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

type Store struct {
	mu    sync.RWMutex
	books map[string]domain.Book
	loans map[string]domain.Loan
	users map[string]domain.User
}

func New() *Store {
	return &Store{
		books: make(map[string]domain.Book),
		loans: make(map[string]domain.Loan),
		users: make(map[string]domain.User),
	}
}

// staged holds one record's pending compare-and-swap: the version observed at
// first read and the mutated value carrying the already-bumped version.
type staged[T any] struct {
	expected int64
	value    T
}

type memTx struct {
	s *Store

	bookWrites map[string]*staged[domain.Book]
	loanWrites map[string]*staged[domain.Loan]

	bookInserts []domain.Book
	loanInserts []domain.Loan
	userInserts []domain.User
}

func (s *Store) newTx() *memTx {
	return &memTx{
		s:          s,
		bookWrites: make(map[string]*staged[domain.Book]),
		loanWrites: make(map[string]*staged[domain.Loan]),
	}
}

// WithinTx executes fn against a staged transaction and commits atomically.
// fn errors abort with no side effects; commit-time validation failures
// surface as port.ErrConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx := s.newTx()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every compare-and-swap against the live version.
	for id, w := range tx.bookWrites {
		current, ok := s.books[id]
		if !ok || current.Version != w.expected {
			return port.ErrConflict
		}
	}
	for id, w := range tx.loanWrites {
		current, ok := s.loans[id]
		if !ok || current.Version != w.expected {
			return port.ErrConflict
		}
	}

	// Validate inserts against the effective post-commit state, so a racing
	// transaction that slipped in an open loan for the same pair is caught
	// here rather than corrupting the single-open-loan invariant.
	for _, b := range tx.bookInserts {
		if _, ok := s.books[b.ID]; ok {
			return port.ErrConflict
		}
		for _, existing := range s.books {
			if existing.ISBN == b.ISBN {
				return port.ErrConflict
			}
		}
	}
	for i, l := range tx.loanInserts {
		if _, ok := s.loans[l.ID]; ok {
			return port.ErrConflict
		}
		if s.openLoanExistsLocked(tx, l.BookID, l.BorrowerID) {
			return port.ErrConflict
		}
		for _, other := range tx.loanInserts[:i] {
			if other.BookID == l.BookID && other.BorrowerID == l.BorrowerID {
				return port.ErrConflict
			}
		}
	}
	for _, u := range tx.userInserts {
		if _, ok := s.users[u.ID]; ok {
			return port.ErrConflict
		}
		for _, existing := range s.users {
			if existing.Email == u.Email {
				return port.ErrConflict
			}
		}
	}

	for id, w := range tx.bookWrites {
		s.books[id] = w.value
	}
	for id, w := range tx.loanWrites {
		s.loans[id] = w.value
	}
	for _, b := range tx.bookInserts {
		s.books[b.ID] = b
	}
	for _, l := range tx.loanInserts {
		s.loans[l.ID] = l
	}
	for _, u := range tx.userInserts {
		s.users[u.ID] = u
	}
	return nil
}

// openLoanExistsLocked answers against store state with this transaction's
// staged loan updates overlaid. Caller holds s.mu.
func (s *Store) openLoanExistsLocked(tx *memTx, bookID, borrowerID string) bool {
	for id, l := range s.loans {
		if w, ok := tx.loanWrites[id]; ok {
			l = w.value
		}
		if l.BookID == bookID && l.BorrowerID == borrowerID && l.Open() {
			return true
		}
	}
	return false
}
