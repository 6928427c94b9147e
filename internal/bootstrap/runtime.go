// Package bootstrap wires up the runtime dependencies shared by the
// server and developer tooling.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"shieldchat/internal/cache"
	"shieldchat/internal/config"
	"shieldchat/internal/database"
	"shieldchat/internal/models"
	"shieldchat/internal/observability"
	"shieldchat/internal/seed"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	SeedOfficialChannels bool
}

// InitRuntime connects to the database and Redis and optionally seeds
// the built-in official channels.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; a nil client degrades to local-only delivery.
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := ensureDevRootAdmin(cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	if opts.SeedOfficialChannels {
		if err := seed.OfficialChannels(db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed official channels: %w", err)
		}
	}

	return db, r, nil
}

type rootCredentials struct {
	username string
	email    string
	hash     string
}

func resolveRootCredentials(cfg *config.Config) (rootCredentials, error) {
	creds := rootCredentials{
		username: strings.TrimSpace(cfg.DevRootUsername),
		email:    strings.TrimSpace(strings.ToLower(cfg.DevRootEmail)),
	}
	if creds.username == "" {
		creds.username = "chat_root"
	}
	if creds.email == "" {
		creds.email = "root@shieldchat.local"
	}
	if cfg.DevRootPassword == "" {
		return creds, fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DevRootPassword), bcrypt.DefaultCost)
	if err != nil {
		return creds, fmt.Errorf("hash root password: %w", err)
	}
	creds.hash = string(hash)
	return creds, nil
}

// ensureDevRootAdmin guarantees user ID 1 exists and is an admin in
// development deployments that opt in. It never runs outside development.
func ensureDevRootAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}

	creds, err := resolveRootCredentials(cfg)
	if err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var root models.User
		findErr := tx.First(&root, 1).Error

		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			root = models.User{
				ID:       1,
				Username: creds.username,
				Email:    creds.email,
				Password: creds.hash,
				IsAdmin:  true,
			}
			if err := tx.Create(&root).Error; err != nil {
				return err
			}
			return syncUsersSequence(tx)
		}
		if findErr != nil {
			return findErr
		}

		updates := map[string]any{"is_admin": true}
		if cfg.DevRootForceCredentials {
			updates["username"] = creds.username
			updates["email"] = creds.email
			updates["password"] = creds.hash
		}
		if err := tx.Model(&models.User{}).Where("id = ?", 1).Updates(updates).Error; err != nil {
			return err
		}
		return syncUsersSequence(tx)
	})
	if err != nil {
		return err
	}

	observability.GlobalLogger.Info("development root admin ensured",
		slog.Uint64("user_id", 1), slog.String("email", creds.email))
	return nil
}

// syncUsersSequence keeps the users ID sequence ahead of the explicit
// ID 1 insert. PostgreSQL only; other dialects have nothing to fix.
func syncUsersSequence(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	err := tx.Exec(`
		SELECT setval(
			pg_get_serial_sequence('users', 'id'),
			GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1),
			true
		)
	`).Error
	if err != nil {
		return fmt.Errorf("failed to reset users sequence: %w", err)
	}
	return nil
}
