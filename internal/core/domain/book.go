package domain

import "time"

// Book carries the copy counters the lending core mutates. AvailableCopies
// must stay within [0, TotalCopies]; every committed mutation bumps Version.
type Book struct {
	ID              string
	ISBN            string
	Title           string
	Author          string
	TotalCopies     int
	AvailableCopies int
	Version         int64 // optimistic locking
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Borrowed is the number of copies currently lent out.
func (b Book) Borrowed() int {
	return b.TotalCopies - b.AvailableCopies
}

func (b Book) Available() bool {
	return b.AvailableCopies > 0
}
