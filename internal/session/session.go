package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/utils"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidLogin     = errors.New("email and password are required")
)

// Claims mirrors what the platform puts into its access tokens. Tokens are
// decoded, never verified: the API is the authority on validity.
type Claims struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Poster is the slice of the gateway used for login.
type Poster interface {
	Post(ctx context.Context, path string, body any, auth bool) (json.RawMessage, error)
}

// Session is the process-wide credential holder passed explicitly to the
// check-in and registration flows.
type Session struct {
	store Store

	mu        sync.RWMutex
	cached    *domain.User
	cachedFor string
}

func New(store Store) *Session {
	return &Session{store: store}
}

// Token implements gateway.TokenSource.
func (s *Session) Token(ctx context.Context) (string, error) {
	return s.store.Load(ctx)
}

func (s *Session) Authenticated(ctx context.Context) bool {
	token, err := s.store.Load(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read session store", "error", err)
		return false
	}
	return token != ""
}

// User returns the signed-in user's profile, or ErrNotAuthenticated.
func (s *Session) User(ctx context.Context) (*domain.User, error) {
	token, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	s.mu.RLock()
	if s.cached != nil && s.cachedFor == token {
		u := *s.cached
		s.mu.RUnlock()
		return &u, nil
	}
	s.mu.RUnlock()

	claims, err := ParseClaims(token)
	if err != nil {
		// opaque tokens carry no profile
		return &domain.User{}, nil
	}
	return &domain.User{
		ID:    claims.UserID,
		Name:  claims.Name,
		Email: claims.Email,
		Phone: claims.Phone,
		Role:  claims.Role,
	}, nil
}

func (s *Session) Login(ctx context.Context, gw Poster, email, password string) (*domain.User, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidLogin
	}

	raw, err := gw.Post(ctx, "/auth/login", domain.LoginReq{Email: email, Password: password}, false)
	if err != nil {
		return nil, err
	}
	res, err := gateway.Decode[domain.LoginRes](raw)
	if err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, &gateway.Error{Status: 200, Message: utils.FirstNonEmpty(res.Message, "Login failed")}
	}

	if err := s.store.Save(ctx, res.Token); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	s.mu.Lock()
	s.cached, s.cachedFor = res.User, res.Token
	s.mu.Unlock()

	logger.InfoContext(ctx, "User logged in", "email", email)
	return s.User(ctx)
}

// Logout purges the stored credential. It is also used on 401.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.cached, s.cachedFor = nil, ""
	s.mu.Unlock()
	return s.store.Clear(ctx)
}

func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// LoginRedirect is where an unauthenticated user is sent; returnPath comes
// back as the redirect parameter.
func LoginRedirect(returnPath string) string {
	if returnPath == "" {
		returnPath = "/"
	}
	return "/login?redirect=" + url.QueryEscape(returnPath)
}

// LoginRequiredError is returned by flows that need a credential when none is
// stored, or after the API rejected it.
type LoginRequiredError struct {
	RedirectTo string
}

func (e *LoginRequiredError) Error() string {
	return "login required: redirect to " + e.RedirectTo
}
