package service

import (
	"context"
	"fmt"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// Inventory ledger operations. Each takes the book state the caller read
// inside the current transaction and writes through compare-and-swap, so a
// concurrent writer surfaces as port.ErrConflict, never as a lost update.

func decrementAvailable(ctx context.Context, books port.BookRepository, book domain.Book) (*domain.Book, error) {
	if book.AvailableCopies == 0 {
		return nil, ErrOutOfStock
	}
	book.AvailableCopies--
	updated, err := books.CompareAndSwapBook(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("decrement available: %w", err)
	}
	return updated, nil
}

func incrementAvailable(ctx context.Context, books port.BookRepository, book domain.Book) (*domain.Book, error) {
	if book.AvailableCopies+1 > book.TotalCopies {
		// Double return or corrupted counters. Surfaced, never clamped.
		return nil, ErrExceedsTotal
	}
	book.AvailableCopies++
	updated, err := books.CompareAndSwapBook(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("increment available: %w", err)
	}
	return updated, nil
}

func reviseTotal(ctx context.Context, books port.BookRepository, book domain.Book, newTotal int) (*domain.Book, error) {
	if newTotal < book.Borrowed() {
		return nil, ErrBelowBorrowed
	}
	diff := newTotal - book.TotalCopies
	book.TotalCopies = newTotal
	book.AvailableCopies += diff
	updated, err := books.CompareAndSwapBook(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("revise total copies: %w", err)
	}
	return updated, nil
}
