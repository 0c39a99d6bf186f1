package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes in the seed admin password.
const seedPasswordBytes = 16

// SeedAdminUsername is the account created on first boot.
const SeedAdminUsername = "admin"

// SeedAdmin creates an admin account if no users exist and logs its random
// password once. It returns the password, or "" when seeding was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	buf := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(buf); err != nil { //nolint:govet // shadow
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(buf)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     SeedAdminUsername,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"username", SeedAdminUsername,
		"password", password,
		"action_required", "change this password",
	)
	return password, nil
}
