package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kiruthick0007/library-lending/internal/adapter/handler"
	"github.com/kiruthick0007/library-lending/internal/adapter/storage/memstore"
	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/core/service"
	"github.com/kiruthick0007/library-lending/internal/platform/auth"
	"github.com/kiruthick0007/library-lending/internal/port"
)

var testSecret = []byte("test-secret")

type fakeCache struct {
	mu       sync.Mutex
	snaps    map[string]port.AvailabilitySnapshot
	idemKeys map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		snaps:    make(map[string]port.AvailabilitySnapshot),
		idemKeys: make(map[string]bool),
	}
}

func (f *fakeCache) GetAvailability(_ context.Context, bookID string) (*port.AvailabilitySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snaps[bookID]; ok {
		return &snap, nil
	}
	return nil, nil
}

func (f *fakeCache) SetAvailability(_ context.Context, book domain.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[book.ID] = port.AvailabilitySnapshot{
		BookID:          book.ID,
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
		Version:         book.Version,
	}
	return nil
}

func (f *fakeCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idemKeys[key] {
		return false, nil
	}
	f.idemKeys[key] = true
	return true, nil
}

type testEnv struct {
	router *gin.Engine
	store  *memstore.Store
	cache  *fakeCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	ctx := context.Background()
	users := []domain.User{
		{ID: "member-1", Name: "Member", Email: "member@library.com", Role: domain.RoleMember},
		{ID: "member-2", Name: "Other", Email: "other@library.com", Role: domain.RoleMember},
		{ID: "admin-1", Name: "Admin", Email: "admin@library.com", Role: domain.RoleAdmin},
	}
	for _, u := range users {
		if err := store.Users().InsertUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if err := store.Books().InsertBook(ctx, domain.Book{
		ID:              "book-1",
		ISBN:            "9780000000001",
		Title:           "Title",
		Author:          "Author",
		TotalCopies:     2,
		AvailableCopies: 2,
	}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	cache := newFakeCache()
	authz := auth.NewRoleAuthorizer(store.Users())
	fines := domain.NewFineCalculator(1, 24*time.Hour)
	lending := service.NewLendingService(store, authz, fines, 100)
	t.Cleanup(lending.Close)
	go func() {
		for range lending.CommittedBooks() {
		}
	}()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := gin.New()
	api := router.Group("/api")
	handler.NewLendingHandler(lending, cache, log).RegisterRoutes(api, testSecret)

	return &testEnv{router: router, store: store, cache: cache}
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestBorrowEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := tokenFor(t, "member-1", "member")
	due := time.Now().Add(14 * 24 * time.Hour)

	rec := env.do(t, http.MethodPost, "/api/borrowings", token, gin.H{
		"book_id": "book-1",
		"due_at":  due,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	borrowing := body["borrowing"].(map[string]any)
	if borrowing["status"] != "active" {
		t.Errorf("expected active status, got %v", borrowing["status"])
	}
	if borrowing["borrower_id"] != "member-1" {
		t.Errorf("expected borrower from token, got %v", borrowing["borrower_id"])
	}
}

func TestBorrowEndpoint_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/borrowings", "", gin.H{
		"book_id": "book-1",
		"due_at":  time.Now().Add(24 * time.Hour),
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestBorrowEndpoint_AlreadyActive(t *testing.T) {
	env := newTestEnv(t)
	token := tokenFor(t, "member-1", "member")
	due := time.Now().Add(14 * 24 * time.Hour)
	req := gin.H{"book_id": "book-1", "due_at": due}

	if rec := env.do(t, http.MethodPost, "/api/borrowings", token, req); rec.Code != http.StatusCreated {
		t.Fatalf("first borrow: %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/borrowings", token, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if _, ok := body["existing_borrowing"]; !ok {
		t.Errorf("expected existing_borrowing payload, got %v", body)
	}
}

func TestBorrowEndpoint_OutOfStock(t *testing.T) {
	env := newTestEnv(t)
	due := time.Now().Add(14 * 24 * time.Hour)

	// Two copies, three borrowers.
	for i, user := range []string{"member-1", "member-2"} {
		rec := env.do(t, http.MethodPost, "/api/borrowings", tokenFor(t, user, "member"), gin.H{
			"book_id": "book-1", "due_at": due,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("borrow %d: %d", i, rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/borrowings", tokenFor(t, "admin-1", "admin"), gin.H{
		"book_id": "book-1", "due_at": due,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when no copies remain, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBorrowEndpoint_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	token := tokenFor(t, "member-1", "member")
	req := gin.H{
		"request_id": "req-42",
		"book_id":    "book-1",
		"due_at":     time.Now().Add(14 * 24 * time.Hour),
	}

	if rec := env.do(t, http.MethodPost, "/api/borrowings", token, req); rec.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/borrowings", token, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for replayed request_id, got %d", rec.Code)
	}
}

func TestReturnEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := tokenFor(t, "member-1", "member")
	due := time.Now().Add(14 * 24 * time.Hour)

	rec := env.do(t, http.MethodPost, "/api/borrowings", token, gin.H{"book_id": "book-1", "due_at": due})
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow: %d", rec.Code)
	}
	loanID := decode(t, rec)["borrowing"].(map[string]any)["id"].(string)

	rec = env.do(t, http.MethodPut, "/api/borrowings/"+loanID+"/return", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["fine"].(float64) != 0 {
		t.Errorf("expected fine 0, got %v", body["fine"])
	}

	// Second return of the same loan.
	rec = env.do(t, http.MethodPut, "/api/borrowings/"+loanID+"/return", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for repeated return, got %d", rec.Code)
	}
}

func TestReturnEndpoint_Authorization(t *testing.T) {
	env := newTestEnv(t)
	due := time.Now().Add(14 * 24 * time.Hour)

	rec := env.do(t, http.MethodPost, "/api/borrowings", tokenFor(t, "member-1", "member"),
		gin.H{"book_id": "book-1", "due_at": due})
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow: %d", rec.Code)
	}
	loanID := decode(t, rec)["borrowing"].(map[string]any)["id"].(string)

	// Another member is rejected.
	rec = env.do(t, http.MethodPut, "/api/borrowings/"+loanID+"/return", tokenFor(t, "member-2", "member"), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for stranger, got %d", rec.Code)
	}

	// An admin may return on the borrower's behalf.
	rec = env.do(t, http.MethodPut, "/api/borrowings/"+loanID+"/return", tokenFor(t, "admin-1", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReturnEndpoint_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/borrowings/no-such-loan/return", tokenFor(t, "member-1", "member"), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestMyBorrowingsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := tokenFor(t, "member-1", "member")
	due := time.Now().Add(14 * 24 * time.Hour)

	if rec := env.do(t, http.MethodPost, "/api/borrowings", token, gin.H{"book_id": "book-1", "due_at": due}); rec.Code != http.StatusCreated {
		t.Fatalf("borrow: %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/borrowings/my", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var loans []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &loans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(loans) != 1 || loans[0]["book_id"] != "book-1" {
		t.Errorf("unexpected listing: %v", loans)
	}

	// Other members see their own, empty, list.
	rec = env.do(t, http.MethodGet, "/api/borrowings/my", tokenFor(t, "member-2", "member"), nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &loans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(loans) != 0 {
		t.Errorf("expected empty listing, got %v", loans)
	}
}

func TestCreateBookEndpoint_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	req := gin.H{"isbn": "9780000000099", "title": "New", "author": "A", "total_copies": 3}

	rec := env.do(t, http.MethodPost, "/api/books", tokenFor(t, "member-1", "member"), req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/books", tokenFor(t, "admin-1", "admin"), req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["available_copies"].(float64) != 3 {
		t.Errorf("expected available == total, got %v", body["available_copies"])
	}

	// Duplicate ISBN.
	rec = env.do(t, http.MethodPost, "/api/books", tokenFor(t, "admin-1", "admin"), req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate isbn, got %d", rec.Code)
	}
}

func TestReviseCopiesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := tokenFor(t, "admin-1", "admin")

	rec := env.do(t, http.MethodPut, "/api/books/book-1/copies", admin, gin.H{"total_copies": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["total_copies"].(float64) != 5 || body["available_copies"].(float64) != 5 {
		t.Errorf("unexpected counters: %v", body)
	}

	// Borrow both original copies plus one, then shrink below the open count.
	due := time.Now().Add(14 * 24 * time.Hour)
	for _, user := range []string{"member-1", "member-2"} {
		if rec := env.do(t, http.MethodPost, "/api/borrowings", tokenFor(t, user, "member"),
			gin.H{"book_id": "book-1", "due_at": due}); rec.Code != http.StatusCreated {
			t.Fatalf("borrow: %d", rec.Code)
		}
	}
	rec = env.do(t, http.MethodPut, "/api/books/book-1/copies", admin, gin.H{"total_copies": 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when shrinking below open loans, got %d", rec.Code)
	}
}

func TestGetBookEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Uncached: served from the store, no auth required.
	rec := env.do(t, http.MethodGet, "/api/books/book-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["available_copies"].(float64) != 2 {
		t.Errorf("expected 2 available, got %v", body["available_copies"])
	}

	// Cached snapshot wins once present.
	env.cache.SetAvailability(context.Background(), domain.Book{
		ID: "book-1", TotalCopies: 2, AvailableCopies: 1, Version: 3,
	})
	rec = env.do(t, http.MethodGet, "/api/books/book-1", "", nil)
	body = decode(t, rec)
	if body["available_copies"].(float64) != 1 {
		t.Errorf("expected snapshot value 1, got %v", body["available_copies"])
	}

	rec = env.do(t, http.MethodGet, "/api/books/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAuthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memstore.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(store, testSecret, time.Hour)

	router := gin.New()
	api := router.Group("/api")
	handler.NewAuthHandler(authSvc, log).RegisterRoutes(api)

	env := &testEnv{router: router, store: store}

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name": "John", "email": "john@library.com", "password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d: %s", rec.Code, rec.Body.String())
	}
	if role := decode(t, rec)["role"]; role != "member" {
		t.Errorf("self-registration must be member, got %v", role)
	}

	// Short password rejected at binding.
	rec = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name": "X", "email": "x@library.com", "password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "john@library.com", "password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d: %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["token"] == "" {
		t.Error("expected a token")
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "john@library.com", "password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
