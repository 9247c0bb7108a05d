package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var (
	errEmptyToken = errors.New("token provider returned an empty token")

	nowFunc = time.Now // mockable
)

type (
	// TokenProvider supplies a short-lived bearer credential. Implementations must be safe for concurrent use.
	TokenProvider interface {
		Token(ctx context.Context) (string, error)
	}

	// Refresher is a TokenProvider that can be forced to drop its cached credential and obtain a new one.
	Refresher interface {
		TokenProvider
		Refresh(ctx context.Context) error
	}

	// TokenFunc adapts a plain function to a TokenProvider.
	TokenFunc func(ctx context.Context) (string, error)

	// StaticToken always returns itself.
	StaticToken string
)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errEmptyToken
	}
	return string(s), nil
}

// RefreshingTokenSource caches a token obtained from an asynchronous issuer and refreshes it
// shortly before it expires. Concurrent refreshes are collapsed into a single issuer call.
type RefreshingTokenSource struct {
	issue      TokenFunc
	leeway     time.Duration
	defaultTTL time.Duration

	mu     sync.RWMutex
	token  string
	expiry time.Time
	group  singleflight.Group
}

var _ Refresher = (*RefreshingTokenSource)(nil)

// NewRefreshingTokenSource wraps `issue`. The expiry of JWTs is read from their `exp` claim;
// opaque tokens (or JWTs without `exp`) are kept for `defaultTTL`.
func NewRefreshingTokenSource(issue TokenFunc, leeway, defaultTTL time.Duration) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		issue:      issue,
		leeway:     leeway,
		defaultTTL: defaultTTL,
	}
}

func (s *RefreshingTokenSource) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || !nowFunc().Add(s.leeway).Before(s.expiry) {
		return "", false
	}
	return s.token, true
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}
	return s.refresh(ctx)
}

// Refresh drops the cached token and issues a new one.
func (s *RefreshingTokenSource) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.expiry = time.Time{}
	s.mu.Unlock()

	_, err := s.refresh(ctx)
	return err
}

func (s *RefreshingTokenSource) refresh(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("token", func() (interface{}, error) {
		if token, ok := s.cached(); ok { // another caller refreshed while we waited
			return token, nil
		}
		token, err := s.issue(ctx)
		if err != nil {
			return "", errors.Wrap(err, "issuing token")
		}
		if token == "" {
			return "", errEmptyToken
		}

		s.mu.Lock()
		s.token = token
		s.expiry = s.expiryOf(token)
		s.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *RefreshingTokenSource) expiryOf(token string) time.Time {
	claims := new(jwt.StandardClaims)
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err == nil && claims.ExpiresAt > 0 {
		return time.Unix(claims.ExpiresAt, 0)
	}
	return nowFunc().Add(s.defaultTTL)
}

// JWTIssuer signs HS256 service tokens. Used for service-to-service calls and local development,
// where no external auth provider hands out tokens.
type JWTIssuer struct {
	Issuer    string
	Subject   string
	Audience  string
	SecretKey []byte
	TTL       time.Duration
}

// Issue signs a new token; it satisfies TokenFunc.
func (iss JWTIssuer) Issue(context.Context) (string, error) {
	now := nowFunc()
	claims := jwt.StandardClaims{
		Issuer:    iss.Issuer,
		Subject:   iss.Subject,
		Audience:  iss.Audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(iss.TTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(iss.SecretKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

type bearerCtxKey struct{}

// WithBearer returns a copy of ctx carrying the caller's own bearer token.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerCtxKey{}, strings.TrimSpace(token))
}

// BearerFromContext returns the bearer token set with WithBearer.
func BearerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerCtxKey{}).(string)
	return token, ok && token != ""
}

// ContextTokenProvider forwards the bearer token carried by the context (see WithBearer),
// falling back to a service-level provider when there is none.
type ContextTokenProvider struct {
	Fallback TokenProvider
}

var _ Refresher = ContextTokenProvider{}

func (p ContextTokenProvider) Token(ctx context.Context) (string, error) {
	if token, ok := BearerFromContext(ctx); ok {
		return token, nil
	}
	if p.Fallback == nil {
		return "", errors.New("no bearer token in context")
	}
	return p.Fallback.Token(ctx)
}

// Refresh refreshes the fallback provider. A forwarded user token cannot be refreshed here.
func (p ContextTokenProvider) Refresh(ctx context.Context) error {
	if _, ok := BearerFromContext(ctx); ok {
		return errors.New("forwarded bearer token cannot be refreshed")
	}
	if r, ok := p.Fallback.(Refresher); ok {
		return r.Refresh(ctx)
	}
	return errors.New("fallback token provider cannot be refreshed")
}
