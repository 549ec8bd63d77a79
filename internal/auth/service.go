package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jw6ventures/calstore/internal/store"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords
// alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

const davRealm = `Basic realm="calstore DAV"`

// Service authenticates DAV clients with per-client app passwords.
type Service struct {
	users     store.UserRepository
	passwords store.AppPasswordRepository
}

func NewService(users store.UserRepository, passwords store.AppPasswordRepository) *Service {
	return &Service{users: users, passwords: passwords}
}

// NewAppPassword generates a random app password for user and stores its
// hash. The plain token is only returned here.
func (s *Service) NewAppPassword(ctx context.Context, userID int64, label string, ttl time.Duration) (string, *store.AppPassword, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash token: %w", err)
	}

	record := store.AppPassword{UserID: userID, Label: label, TokenHash: string(hash)}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		record.ExpiresAt = &expires
	}
	created, err := s.passwords.Create(ctx, record)
	if err != nil {
		return "", nil, err
	}
	return token, created, nil
}

// ValidateAppPassword verifies Basic Auth credentials for DAV clients.
func (s *Service) ValidateAppPassword(ctx context.Context, username, password string) (*store.User, *store.AppPassword, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.passwords.FindValidByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	for i := range tokens {
		if bcrypt.CompareHashAndPassword([]byte(tokens[i].TokenHash), []byte(password)) != nil {
			continue
		}
		if err := s.passwords.TouchLastUsed(ctx, tokens[i].ID); err != nil {
			slog.WarnContext(ctx, "failed to record app password use", "token_id", tokens[i].ID, "error", err)
		}
		return user, &tokens[i], nil
	}
	return nil, nil, ErrInvalidCredentials
}

// RequireDAVAuth enforces Basic Auth for DAV endpoints.
func (s *Service) RequireDAVAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username == "" || password == "" {
			w.Header().Set("WWW-Authenticate", davRealm)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, token, err := s.ValidateAppPassword(ctx, username, password)
		if err != nil {
			if !errors.Is(err, ErrInvalidCredentials) {
				slog.ErrorContext(ctx, "app password validation failed", "user", username, "error", err)
			}
			w.Header().Set("WWW-Authenticate", davRealm)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		ctx = WithUser(ctx, user)
		ctx = WithPasswordLabel(ctx, token.Label)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
