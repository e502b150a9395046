// Stress tool: fires concurrent borrow attempts at a single book and checks
// that successes never exceed the copy count.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiruthick0007/library-lending/internal/adapter/storage/memstore"
	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/core/service"
)

const (
	totalCopies   = 20
	totalRequests = 500
	queueSize     = 1000
)

type noAuth struct{}

func (noAuth) IsPrivileged(context.Context, string) (bool, error) { return false, nil }

func main() {
	ctx := context.Background()

	store := memstore.New()
	book := domain.Book{
		ID:              "stress-book",
		ISBN:            "0000000000000",
		Title:           "Stress Test",
		Author:          "N/A",
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
	}
	if err := store.Books().InsertBook(ctx, book); err != nil {
		log.Fatalf("failed to insert book: %v", err)
	}

	fines := domain.NewFineCalculator(domain.DefaultDailyRate, domain.DefaultFineGranularity)
	svc := service.NewLendingService(store, noAuth{}, fines, queueSize)
	defer svc.Close()

	// Drain the refresh queue in background
	go func() {
		for range svc.CommittedBooks() {
		}
	}()

	var successCount, conflictCount, outOfStockCount atomic.Int32
	var wg sync.WaitGroup

	dueAt := time.Now().Add(14 * 24 * time.Hour)
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			borrowerID := fmt.Sprintf("user-%d", id)
			err := service.Retry(ctx, func(ctx context.Context) error {
				_, err := svc.Borrow(ctx, book.ID, borrowerID, dueAt)
				return err
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrConflict):
				conflictCount.Add(1)
			case errors.Is(err, service.ErrOutOfStock):
				outOfStockCount.Add(1)
			default:
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	remaining, err := store.Books().GetBook(ctx, book.ID)
	if err != nil {
		log.Fatalf("failed to read book: %v", err)
	}

	fmt.Printf("requests:     %d\n", totalRequests)
	fmt.Printf("successes:    %d\n", successCount.Load())
	fmt.Printf("conflicts:    %d\n", conflictCount.Load())
	fmt.Printf("out of stock: %d\n", outOfStockCount.Load())
	fmt.Printf("remaining:    %d\n", remaining.AvailableCopies)
	fmt.Printf("elapsed:      %s\n", elapsed)

	if successCount.Load() != totalCopies {
		log.Fatalf("FAIL: expected exactly %d successes, got %d", totalCopies, successCount.Load())
	}
	if remaining.AvailableCopies != 0 {
		log.Fatalf("FAIL: expected 0 remaining copies, got %d", remaining.AvailableCopies)
	}
	fmt.Println("OK: no oversell, no lost update")
}
