package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager(testAuth)

	token, err := m.Issue(42, models.RoleAdmin)
	require.NoError(t, err)

	actor, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), actor.UserID)
	assert.True(t, actor.IsAdmin())

	token, err = m.Issue(7, models.Role("inspector"))
	require.NoError(t, err)
	actor, err = m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, actor.Role, "unknown roles get customer rights")
}

func TestTokenRejected(t *testing.T) {
	m := NewTokenManager(testAuth)
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issuedAt }

	token, err := m.Issue(1, models.RoleCustomer)
	require.NoError(t, err)

	m.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	m.now = func() time.Time { return issuedAt }
	other := NewTokenManager(config.APIAuthConfig{JWTSecret: "another", Issuer: testAuth.Issuer, TokenTTL: time.Hour})
	other.now = m.now
	forged, err := other.Issue(1, models.RoleAdmin)
	require.NoError(t, err)
	_, err = m.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := NewTokenManager(config.APIAuthConfig{JWTSecret: testAuth.JWTSecret, Issuer: "someone-else", TokenTTL: time.Hour})
	foreign.now = m.now
	token, err = foreign.Issue(1, models.RoleAdmin)
	require.NoError(t, err)
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             string(models.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: testAuth.Issuer},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejectsTokens(t *testing.T) {
	noSecret := config.APIAuthConfig{Enabled: false, Issuer: testAuth.Issuer, TokenTTL: time.Hour}
	m := NewTokenManager(noSecret)

	_, err := m.Issue(1, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrNoSecret)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(models.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "999",
			Issuer:    testAuth.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(""))
	require.NoError(t, err)

	_, err = m.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	srv := NewHTTPServer(config.APIConfig{Auth: noSecret}, config.BookingConfig{}, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/inspections/admin/all", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActorFromContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)
}

func startGRPC(t *testing.T, cfg *config.APIConfig) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := zerolog.Nop()
	srv := newGRPCServer(cfg, lis, &logger)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func TestGRPCHealth(t *testing.T) {
	cfg := &config.APIConfig{Auth: config.APIAuthConfig{Enabled: true, ServiceKeys: []string{"probe-key"}}}
	srv, client := startGRPC(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	keyed := metadata.AppendToOutgoingContext(ctx, serviceKeyHeader, "wrong")
	_, err = client.Check(keyed, &healthpb.HealthCheckRequest{Service: ServiceName})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	keyed = metadata.AppendToOutgoingContext(ctx, serviceKeyHeader, "probe-key")
	resp, err := client.Check(keyed, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	srv.SetServing(true)
	resp, err = client.Check(keyed, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(keyed, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCRateLimit(t *testing.T) {
	cfg := &config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}}
	_, client := startGRPC(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
