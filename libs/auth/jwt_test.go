package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHS256RoundTrip(t *testing.T) {
	token, err := SignHS256("test-secret", "dr-lee", RoleProvider, time.Hour)
	require.NoError(t, err)

	claims, err := ParseAndVerifyHS256(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "dr-lee", claims.Subject)
	assert.Equal(t, RoleProvider, claims.Role)

	_, err = ParseAndVerifyHS256(token, "wrong-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256("test-secret", "dr-lee", RoleProvider, -time.Minute)
	require.NoError(t, err)

	_, err = ParseAndVerifyHS256(token, "test-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWithoutExpiryRejected(t *testing.T) {
	claims := Claims{Role: RoleProvider, RegisteredClaims: jwt.RegisteredClaims{
		Subject:  "dr-lee",
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ParseAndVerifyHS256(token, "test-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = SignHS256("test-secret", "dr-lee", RoleProvider, 0)
	assert.Error(t, err, "a zero ttl would mint a token that never expires")
}

func TestMiddleware(t *testing.T) {
	var got Actor
	h := Middleware(Options{Secret: "test-secret"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := SignHS256("test-secret", "patient-1", RoleRequester, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, Actor{ID: "patient-1", Role: RoleRequester}, got)

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rw.Code)

	untrusted := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	untrusted.Header.Set(HeaderUserID, "patient-1")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, untrusted)
	assert.Equal(t, http.StatusUnauthorized, rw.Code, "gateway headers are ignored unless trusted")
}

func TestMiddlewareGatewayHeaders(t *testing.T) {
	var got Actor
	h := Middleware(Options{TrustGatewayHeaders: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "dr-lee")
	req.Header.Set(HeaderRole, RoleProvider)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, Actor{ID: "dr-lee", Role: RoleProvider}, got)
}
