package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/core/service"
	"github.com/kiruthick0007/library-lending/internal/platform/auth"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// LendingHandler is the transport boundary: it parses requests, runs the
// core operation under the explicit conflict-retry policy and maps each
// outcome to a status code. Conflicts that survive the retries map to 409 so
// the client can reattempt.
type LendingHandler struct {
	lending *service.LendingService
	cache   port.CacheRepository
	log     *slog.Logger
}

func NewLendingHandler(lending *service.LendingService, cache port.CacheRepository, log *slog.Logger) *LendingHandler {
	return &LendingHandler{lending: lending, cache: cache, log: log}
}

func (h *LendingHandler) RegisterRoutes(api *gin.RouterGroup, secret []byte) {
	api.GET("/books/:id", h.GetBook)

	authed := api.Group("", auth.RequireAuth(secret))
	authed.POST("/borrowings", h.Borrow)
	authed.PUT("/borrowings/:id/return", h.Return)
	authed.GET("/borrowings/my", h.MyBorrowings)

	admin := authed.Group("", auth.RequireAdmin())
	admin.POST("/books", h.CreateBook)
	admin.PUT("/books/:id/copies", h.ReviseCopies)
}

type borrowRequest struct {
	RequestID string    `json:"request_id"`
	BookID    string    `json:"book_id" binding:"required"`
	DueAt     time.Time `json:"due_at" binding:"required"`
}

type loanResponse struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	BorrowerID string     `json:"borrower_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Status     string     `json:"status"`
	Fine       int64      `json:"fine"`
}

func (h *LendingHandler) loanResponse(loan domain.Loan, asOf time.Time) loanResponse {
	return loanResponse{
		ID:         loan.ID,
		BookID:     loan.BookID,
		BorrowerID: loan.BorrowerID,
		BorrowedAt: loan.BorrowedAt,
		DueAt:      loan.DueAt,
		ReturnedAt: loan.ReturnedAt,
		Status:     string(loan.StatusAt(asOf)),
		Fine:       h.lending.AccruedFine(loan, asOf),
	}
}

func (h *LendingHandler) Borrow(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	borrowerID := c.GetString(auth.CtxUserIDKey)

	if req.RequestID != "" {
		key := fmt.Sprintf("borrow:%s:%s", borrowerID, req.RequestID)
		ok, err := h.cache.SetIdempotency(c.Request.Context(), key)
		if err != nil {
			h.log.Error("idempotency check failed", "error", err)
		} else if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
	}

	var loan *domain.Loan
	err := service.Retry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		loan, err = h.lending.Borrow(ctx, req.BookID, borrowerID, req.DueAt)
		return err
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "book borrowed successfully",
		"borrowing": h.loanResponse(*loan, time.Now()),
	})
}

func (h *LendingHandler) Return(c *gin.Context) {
	loanID := c.Param("id")
	requesterID := c.GetString(auth.CtxUserIDKey)

	var loan *domain.Loan
	err := service.Retry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		loan, err = h.lending.Return(ctx, loanID, requesterID, time.Now())
		return err
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "book returned successfully",
		"fine":      loan.Fine,
		"borrowing": h.loanResponse(*loan, time.Now()),
	})
}

func (h *LendingHandler) MyBorrowings(c *gin.Context) {
	borrowerID := c.GetString(auth.CtxUserIDKey)
	loans, err := h.lending.ListLoans(c.Request.Context(), borrowerID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	now := time.Now()
	out := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		out = append(out, h.loanResponse(loan, now))
	}
	c.JSON(http.StatusOK, out)
}

type createBookRequest struct {
	ISBN        string `json:"isbn" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author" binding:"required"`
	TotalCopies int    `json:"total_copies"`
}

func (h *LendingHandler) CreateBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	book, err := h.lending.CreateBook(c.Request.Context(), req.ISBN, req.Title, req.Author, req.TotalCopies)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bookResponse(*book))
}

func (h *LendingHandler) GetBook(c *gin.Context) {
	bookID := c.Param("id")

	// Display read: serve the snapshot cache when possible. Stale is fine
	// here, a write never starts from this value.
	if snap, err := h.cache.GetAvailability(c.Request.Context(), bookID); err == nil && snap != nil {
		c.JSON(http.StatusOK, gin.H{
			"id":               snap.BookID,
			"total_copies":     snap.TotalCopies,
			"available_copies": snap.AvailableCopies,
		})
		return
	}

	book, err := h.lending.GetBook(c.Request.Context(), bookID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookResponse(*book))
}

type reviseCopiesRequest struct {
	TotalCopies int `json:"total_copies" binding:"min=0"`
}

func (h *LendingHandler) ReviseCopies(c *gin.Context) {
	var req reviseCopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	bookID := c.Param("id")
	var book *domain.Book
	err := service.Retry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		book, err = h.lending.ReviseTotalCopies(ctx, bookID, req.TotalCopies)
		return err
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookResponse(*book))
}

func bookResponse(book domain.Book) gin.H {
	return gin.H{
		"id":               book.ID,
		"isbn":             book.ISBN,
		"title":            book.Title,
		"author":           book.Author,
		"total_copies":     book.TotalCopies,
		"available_copies": book.AvailableCopies,
	}
}

func (h *LendingHandler) writeError(c *gin.Context, err error) {
	var active *service.AlreadyActiveError
	if errors.As(err, &active) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "you have already borrowed this book, please return it first",
			"existing_borrowing": gin.H{
				"loan_id":     active.Existing.ID,
				"borrowed_at": active.Existing.BorrowedAt,
				"due_at":      active.Existing.DueAt,
			},
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrBookNotFound), errors.Is(err, service.ErrLoanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrInvalidDueDate),
		errors.Is(err, service.ErrAlreadyReturned),
		errors.Is(err, service.ErrBelowBorrowed),
		errors.Is(err, service.ErrDuplicateISBN):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict: record was modified concurrently, please retry", "conflict": true})
	case errors.Is(err, service.ErrInventoryCorrupt), errors.Is(err, service.ErrExceedsTotal):
		h.log.Error("inventory integrity violation", "error", err)
		c.JSON(http.StatusConflict, gin.H{"error": "invalid inventory state detected, please contact an administrator", "conflict": true})
	default:
		h.log.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
