// Seeds the database with an admin, two members and a starter shelf of
// books. Existing rows with the same unique keys are left untouched.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiruthick0007/library-lending/internal/adapter/storage"
	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/platform/config"
	"github.com/kiruthick0007/library-lending/internal/platform/db"
	"github.com/kiruthick0007/library-lending/internal/port"
)

type seedUser struct {
	name, email, password string
	role                  domain.Role
}

type seedBook struct {
	isbn, title, author string
	copies              int
}

var users = []seedUser{
	{"Admin User", "admin@library.com", "admin123", domain.RoleAdmin},
	{"John Doe", "john@example.com", "password123", domain.RoleMember},
	{"Jane Smith", "jane@example.com", "password123", domain.RoleMember},
}

var books = []seedBook{
	{"9780061120084", "To Kill a Mockingbird", "Harper Lee", 5},
	{"9780451524935", "1984", "George Orwell", 3},
	{"9780743273565", "The Great Gatsby", "F. Scott Fitzgerald", 4},
	{"9780553380163", "A Brief History of Time", "Stephen Hawking", 2},
	{"9780132350884", "Clean Code", "Robert C. Martin", 3},
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.MySQL.DSN)
	if err != nil {
		log.Error("failed to connect mysql", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	store := storage.NewMySQLStore(database)
	now := time.Now()

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("hash password", "error", err)
			os.Exit(1)
		}
		err = store.Users().InsertUser(ctx, domain.User{
			ID:           uuid.NewString(),
			Name:         u.name,
			Email:        u.email,
			PasswordHash: string(hash),
			Role:         u.role,
			CreatedAt:    now,
		})
		if errors.Is(err, port.ErrDuplicate) {
			log.Info("user exists, skipping", "email", u.email)
			continue
		}
		if err != nil {
			log.Error("insert user", "email", u.email, "error", err)
			os.Exit(1)
		}
		log.Info("user created", "email", u.email, "role", string(u.role))
	}

	for _, b := range books {
		err := store.Books().InsertBook(ctx, domain.Book{
			ID:              uuid.NewString(),
			ISBN:            b.isbn,
			Title:           b.title,
			Author:          b.author,
			TotalCopies:     b.copies,
			AvailableCopies: b.copies,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if errors.Is(err, port.ErrDuplicate) {
			log.Info("book exists, skipping", "isbn", b.isbn)
			continue
		}
		if err != nil {
			log.Error("insert book", "isbn", b.isbn, "error", err)
			os.Exit(1)
		}
		log.Info("book created", "isbn", b.isbn, "title", b.title)
	}

	log.Info("seeding complete")
}
