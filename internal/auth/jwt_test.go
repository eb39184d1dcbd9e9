package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/ocrflow/internal/model"
)

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(Config{JWTSecret: "test-secret"})
	require.NoError(t, err)
	return v
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign("user-42", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := newVerifier(t)

	expired, err := v.Sign("user-1", -time.Hour)
	require.NoError(t, err)

	other, err := NewJWTVerifier(Config{JWTSecret: "another-secret"})
	require.NoError(t, err)
	wrongKey, err := other.Sign("user-1", time.Hour)
	require.NoError(t, err)

	noID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{ID: "user-1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":      "",
		"garbage":    "not.a.token",
		"expired":    expired,
		"wrong key":  wrongKey,
		"missing id": noID,
		"wrong alg":  hs512,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
			assert.True(t, model.IsErrorType(err, model.ErrCodeUnauthorized))
		})
	}
}

func TestJWTVerifier_Issuer(t *testing.T) {
	v, err := NewJWTVerifier(Config{JWTSecret: "s", Issuer: "idp"})
	require.NoError(t, err)

	good, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:               "u",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "idp"},
	}).SignedString([]byte("s"))
	require.NoError(t, err)
	id, err := v.Verify(good)
	require.NoError(t, err)
	assert.Equal(t, "u", id)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:               "u",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = v.Verify(bad)
	assert.Error(t, err)
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier(Config{})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer   abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
