// Package main implements a one-shot seed command that creates demo users,
// and optionally a private chat between the first two, directly in the
// Palaver database.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --user alice@example.com:Alice \
//	  --user bob@example.com:Bob \
//	  --chat
//
// Environment variables:
//
//	PALAVER_DB_DRIVER  sqlite or postgres (default: sqlite)
//	PALAVER_DB_DSN     SQLite file path or Postgres DSN (default: ./palaver.db)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/palaver-chat/palaver/internal/db"
	"github.com/palaver-chat/palaver/internal/repositories"
)

// userFlags collects repeated --user email:name values.
type userFlags []string

func (u *userFlags) String() string     { return strings.Join(*u, ",") }
func (u *userFlags) Set(v string) error { *u = append(*u, v); return nil }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	var specs userFlags
	flag.Var(&specs, "user", "User to create as email:Display Name (repeatable, required)")
	withChat := flag.Bool("chat", false, "Create a private chat between the first two users")
	flag.Parse()

	if len(specs) == 0 {
		return fmt.Errorf("at least one --user is required")
	}
	if *withChat && len(specs) < 2 {
		return fmt.Errorf("--chat needs at least two --user values")
	}

	users := make([]*db.User, 0, len(specs))
	for _, spec := range specs {
		email, name, _ := strings.Cut(spec, ":")
		email = strings.TrimSpace(email)
		if email == "" {
			return fmt.Errorf("invalid --user %q: email is required", spec)
		}
		if name == "" {
			name = email
		}
		users = append(users, &db.User{Email: email, DisplayName: strings.TrimSpace(name)})
	}

	// ─── Database ─────────────────────────────────────────────────────────────

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   envOrDefault("PALAVER_DB_DRIVER", db.DriverSQLite),
		DSN:      envOrDefault("PALAVER_DB_DSN", "./palaver.db"),
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close(database) //nolint:errcheck

	ctx := context.Background()
	userRepo := repositories.NewUserRepository(database)
	chatRepo := repositories.NewChatRepository(database)

	// ─── Users ────────────────────────────────────────────────────────────────

	for _, u := range users {
		if err := userRepo.Create(ctx, u); err != nil {
			if !errors.Is(err, repositories.ErrConflict) {
				return fmt.Errorf("create user %s: %w", u.Email, err)
			}
			existing, err := userRepo.GetByEmail(ctx, u.Email)
			if err != nil {
				return fmt.Errorf("load user %s: %w", u.Email, err)
			}
			*u = *existing
			fmt.Printf("• User exists   ID: %d  Email: %s\n", u.ID, u.Email)
			continue
		}
		fmt.Printf("✓ User created  ID: %d  Email: %s\n", u.ID, u.Email)
	}

	// ─── Chat ─────────────────────────────────────────────────────────────────

	if !*withChat {
		return nil
	}

	a, b := users[0].ID, users[1].ID
	exists, err := chatRepo.PrivateChatExists(ctx, a, b)
	if err != nil {
		return fmt.Errorf("check chat: %w", err)
	}
	if exists {
		fmt.Printf("• Private chat between %d and %d already exists\n", a, b)
		return nil
	}

	chat, err := chatRepo.CreateChat(ctx, []int64{a, b}, "", false)
	if errors.Is(err, repositories.ErrConflict) {
		fmt.Printf("• Private chat between %d and %d already exists\n", a, b)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	fmt.Printf("✓ Chat created  ID: %d  Members: %d, %d\n", chat.ID, a, b)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
