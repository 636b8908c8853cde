package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"smartvalue/internal/domain"
)

// User-facing result messages.
const (
	MsgRequired      = "username and password are required"
	MsgExists        = "username already exists"
	MsgNoSuchUser    = "user does not exist"
	MsgWrongPassword = "wrong password"
	MsgRegistered    = "registered"
	MsgLoggedIn      = "logged in"
	MsgUnavailable   = "user directory unavailable"
)

// Result is the outcome of Register or Login.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service implements register and login over a Directory.
type Service struct {
	dir Directory
	log *slog.Logger

	// serialises registrations so check-then-insert cannot race
	regMu sync.Mutex
}

// NewService creates a Service backed by dir.
func NewService(dir Directory, log *slog.Logger) *Service {
	return &Service{dir: dir, log: log}
}

// Register creates an account. The guest identity is reserved.
func (s *Service) Register(ctx context.Context, username, password string) Result {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Result{Message: MsgRequired}
	}
	if strings.EqualFold(username, domain.GuestUser) {
		return Result{Message: MsgExists}
	}

	s.regMu.Lock()
	err := s.dir.Register(ctx, username, password)
	s.regMu.Unlock()

	switch {
	case errors.Is(err, ErrExists):
		return Result{Message: MsgExists}
	case err != nil:
		s.log.Error("registering user", "user", username, "error", err)
		return Result{Message: MsgUnavailable}
	}
	s.log.Info("user registered", "user", username)
	return Result{Success: true, Message: MsgRegistered}
}

// Login checks credentials.
func (s *Service) Login(ctx context.Context, username, password string) Result {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Result{Message: MsgRequired}
	}
	secret, found, err := s.dir.Lookup(ctx, username)
	if err != nil {
		s.log.Error("looking up user", "user", username, "error", err)
		return Result{Message: MsgUnavailable}
	}
	if !found {
		return Result{Message: MsgNoSuchUser}
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(password)) != 1 {
		return Result{Message: MsgWrongPassword}
	}
	return Result{Success: true, Message: MsgLoggedIn}
}
