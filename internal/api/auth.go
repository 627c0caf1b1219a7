package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/domain"
	"carinspect/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

// Claims carry the user id in "sub" and the role in "role".
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(cfg config.APIAuthConfig) *TokenManager {
	return &TokenManager{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
}

func (m *TokenManager) Issue(userID int64, role models.Role) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNoSecret
	}
	now := m.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse validates the token and returns the caller it identifies.
// An unset secret rejects every token.
func (m *TokenManager) Parse(tokenString string) (domain.Actor, error) {
	if len(m.secret) == 0 {
		return domain.Actor{}, ErrInvalidToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, ErrExpiredToken
		}
		return domain.Actor{}, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return domain.Actor{}, ErrInvalidToken
	}
	role := models.Role(claims.Role)
	if role != models.RoleAdmin {
		role = models.RoleCustomer
	}
	return domain.Actor{UserID: userID, Role: role}, nil
}

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the authenticated caller set by the auth middleware.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// authenticate requires a valid bearer token on every request it wraps.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			// EventSource cannot set headers.
			token = r.URL.Query().Get("token")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}

		actor, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (s *HTTPServer) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || !actor.IsAdmin() {
			writeError(w, http.StatusForbidden, codeForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthInterceptor guards the gRPC port with static service keys and a per-caller rate limit.
type AuthInterceptor struct {
	cfg     *config.APIConfig
	keys    [][]byte
	limiter *rateLimiter
}

const (
	serviceKeyHeader = "x-api-key"
	clientKeyUnknown = "unknown"
)

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	keys := make([][]byte, 0, len(cfg.Auth.ServiceKeys))
	for _, k := range cfg.Auth.ServiceKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return &AuthInterceptor{
		cfg:     cfg,
		keys:    keys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if a.cfg.Auth.Enabled && len(a.keys) > 0 {
			if err := a.checkKey(ctx); err != nil {
				return nil, err
			}
		}
		if !a.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) checkKey(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	key := first(md.Get(serviceKeyHeader))
	if key == "" {
		return status.Error(codes.Unauthenticated, "missing api key")
	}
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "invalid api key")
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if key := first(md.Get(serviceKeyHeader)); key != "" {
		return key
	}
	return remoteAddr(ctx)
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
