package memstore

import (
	"context"
	"sort"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// Transaction-bound repositories: reads see the transaction's own staged
// writes, compare-and-swap fails fast on a version already known stale, and
// the authoritative check happens again at commit.

func (tx *memTx) Books() port.BookRepository { return txBooks{tx} }
func (tx *memTx) Loans() port.LoanRepository { return txLoans{tx} }
func (tx *memTx) Users() port.UserRepository { return txUsers{tx} }

type txBooks struct{ tx *memTx }

func (r txBooks) GetBook(_ context.Context, id string) (*domain.Book, error) {
	if w, ok := r.tx.bookWrites[id]; ok {
		b := w.value
		return &b, nil
	}
	for _, b := range r.tx.bookInserts {
		if b.ID == id {
			b := b
			return &b, nil
		}
	}
	r.tx.s.mu.RLock()
	defer r.tx.s.mu.RUnlock()
	b, ok := r.tx.s.books[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &b, nil
}

func (r txBooks) GetBookByISBN(_ context.Context, isbn string) (*domain.Book, error) {
	for _, b := range r.tx.bookInserts {
		if b.ISBN == isbn {
			b := b
			return &b, nil
		}
	}
	r.tx.s.mu.RLock()
	defer r.tx.s.mu.RUnlock()
	for _, b := range r.tx.s.books {
		if b.ISBN == isbn {
			b := b
			return &b, nil
		}
	}
	return nil, port.ErrNotFound
}

func (r txBooks) InsertBook(_ context.Context, book domain.Book) error {
	r.tx.bookInserts = append(r.tx.bookInserts, book)
	return nil
}

func (r txBooks) CompareAndSwapBook(_ context.Context, book domain.Book) (*domain.Book, error) {
	if w, ok := r.tx.bookWrites[book.ID]; ok {
		if w.value.Version != book.Version {
			return nil, port.ErrConflict
		}
		book.Version++
		w.value = book
		return &book, nil
	}

	r.tx.s.mu.RLock()
	current, ok := r.tx.s.books[book.ID]
	r.tx.s.mu.RUnlock()
	if !ok {
		return nil, port.ErrNotFound
	}
	if current.Version != book.Version {
		return nil, port.ErrConflict
	}

	expected := book.Version
	book.Version++
	r.tx.bookWrites[book.ID] = &staged[domain.Book]{expected: expected, value: book}
	return &book, nil
}

type txLoans struct{ tx *memTx }

func (r txLoans) GetLoan(_ context.Context, id string) (*domain.Loan, error) {
	if w, ok := r.tx.loanWrites[id]; ok {
		l := w.value
		return &l, nil
	}
	for _, l := range r.tx.loanInserts {
		if l.ID == id {
			l := l
			return &l, nil
		}
	}
	r.tx.s.mu.RLock()
	defer r.tx.s.mu.RUnlock()
	l, ok := r.tx.s.loans[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &l, nil
}

func (r txLoans) FindOpenLoan(_ context.Context, bookID, borrowerID string) (*domain.Loan, error) {
	for _, l := range r.tx.loanInserts {
		if l.BookID == bookID && l.BorrowerID == borrowerID && l.Open() {
			l := l
			return &l, nil
		}
	}
	r.tx.s.mu.RLock()
	defer r.tx.s.mu.RUnlock()
	for id, l := range r.tx.s.loans {
		if w, ok := r.tx.loanWrites[id]; ok {
			l = w.value
		}
		if l.BookID == bookID && l.BorrowerID == borrowerID && l.Open() {
			l := l
			return &l, nil
		}
	}
	return nil, port.ErrNotFound
}

func (r txLoans) InsertLoan(_ context.Context, loan domain.Loan) error {
	r.tx.loanInserts = append(r.tx.loanInserts, loan)
	return nil
}

func (r txLoans) CompareAndSwapLoan(_ context.Context, loan domain.Loan) (*domain.Loan, error) {
	if w, ok := r.tx.loanWrites[loan.ID]; ok {
		if w.value.Version != loan.Version {
			return nil, port.ErrConflict
		}
		loan.Version++
		w.value = loan
		return &loan, nil
	}

	r.tx.s.mu.RLock()
	current, ok := r.tx.s.loans[loan.ID]
	r.tx.s.mu.RUnlock()
	if !ok {
		return nil, port.ErrNotFound
	}
	if current.Version != loan.Version {
		return nil, port.ErrConflict
	}

	expected := loan.Version
	loan.Version++
	r.tx.loanWrites[loan.ID] = &staged[domain.Loan]{expected: expected, value: loan}
	return &loan, nil
}

func (r txLoans) ListLoansByBorrower(ctx context.Context, borrowerID string) ([]domain.Loan, error) {
	return r.tx.s.Loans().ListLoansByBorrower(ctx, borrowerID)
}

type txUsers struct{ tx *memTx }

func (r txUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	for _, u := range r.tx.userInserts {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return r.tx.s.Users().GetUser(ctx, id)
}

func (r txUsers) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range r.tx.userInserts {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return r.tx.s.Users().GetUserByEmail(ctx, email)
}

func (r txUsers) InsertUser(_ context.Context, user domain.User) error {
	r.tx.userInserts = append(r.tx.userInserts, user)
	return nil
}

// Direct repositories: reads outside any transaction, for display and
// seeding. Writes behave as single-operation transactions.

func (s *Store) Books() port.BookRepository { return directBooks{s} }
func (s *Store) Loans() port.LoanRepository { return directLoans{s} }
func (s *Store) Users() port.UserRepository { return directUsers{s} }

type directBooks struct{ s *Store }

func (r directBooks) GetBook(_ context.Context, id string) (*domain.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &b, nil
}

func (r directBooks) GetBookByISBN(_ context.Context, isbn string) (*domain.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, b := range r.s.books {
		if b.ISBN == isbn {
			b := b
			return &b, nil
		}
	}
	return nil, port.ErrNotFound
}

func (r directBooks) InsertBook(_ context.Context, book domain.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.books[book.ID]; ok {
		return port.ErrDuplicate
	}
	for _, existing := range r.s.books {
		if existing.ISBN == book.ISBN {
			return port.ErrDuplicate
		}
	}
	r.s.books[book.ID] = book
	return nil
}

func (r directBooks) CompareAndSwapBook(_ context.Context, book domain.Book) (*domain.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.books[book.ID]
	if !ok {
		return nil, port.ErrNotFound
	}
	if current.Version != book.Version {
		return nil, port.ErrConflict
	}
	book.Version++
	r.s.books[book.ID] = book
	return &book, nil
}

type directLoans struct{ s *Store }

func (r directLoans) GetLoan(_ context.Context, id string) (*domain.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.loans[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &l, nil
}

func (r directLoans) FindOpenLoan(_ context.Context, bookID, borrowerID string) (*domain.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, l := range r.s.loans {
		if l.BookID == bookID && l.BorrowerID == borrowerID && l.Open() {
			l := l
			return &l, nil
		}
	}
	return nil, port.ErrNotFound
}

func (r directLoans) InsertLoan(_ context.Context, loan domain.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.loans[loan.ID]; ok {
		return port.ErrDuplicate
	}
	for _, l := range r.s.loans {
		if l.BookID == loan.BookID && l.BorrowerID == loan.BorrowerID && l.Open() {
			return port.ErrDuplicate
		}
	}
	r.s.loans[loan.ID] = loan
	return nil
}

func (r directLoans) CompareAndSwapLoan(_ context.Context, loan domain.Loan) (*domain.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.loans[loan.ID]
	if !ok {
		return nil, port.ErrNotFound
	}
	if current.Version != loan.Version {
		return nil, port.ErrConflict
	}
	loan.Version++
	r.s.loans[loan.ID] = loan
	return &loan, nil
}

func (r directLoans) ListLoansByBorrower(_ context.Context, borrowerID string) ([]domain.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.Loan
	for _, l := range r.s.loans {
		if l.BorrowerID == borrowerID {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BorrowedAt.After(result[j].BorrowedAt)
	})
	return result, nil
}

type directUsers struct{ s *Store }

func (r directUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &u, nil
}

func (r directUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, port.ErrNotFound
}

func (r directUsers) InsertUser(_ context.Context, user domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return port.ErrDuplicate
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return port.ErrDuplicate
		}
	}
	r.s.users[user.ID] = user
	return nil
}
