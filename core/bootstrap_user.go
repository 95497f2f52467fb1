package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const bootstrapPasswordLength = 20

// BootstrapUser registers a demo user with a generated password when the
// user store is empty. It is idempotent: an existing user base is left alone.
// The password goes to BootstrapPasswordPath, or once to console when no path
// is set; it is never passed to logger.
func BootstrapUser(ctx context.Context, repo UserRepository, auth AuthService, cfg Config, logger *slog.Logger, console io.Writer) error {
	if !cfg.BootstrapUserEnabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if console == nil {
		console = os.Stderr
	}

	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	password, err := GeneratePassword(bootstrapPasswordLength)
	if err != nil {
		return err
	}
	user, err := auth.Register(ctx, cfg.BootstrapUsername, password)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil
		}
		return err
	}

	if cfg.BootstrapPasswordPath != "" {
		if err := os.WriteFile(cfg.BootstrapPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		logger.InfoContext(ctx, "demo user created", "username", user.Username, "password_file", cfg.BootstrapPasswordPath)
		return nil
	}
	if _, err := fmt.Fprintf(console, "demo user %q password: %s\n", user.Username, password); err != nil {
		return err
	}
	logger.InfoContext(ctx, "demo user created", "username", user.Username)
	return nil
}

// GeneratePassword returns a random URL-safe password of length characters.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
