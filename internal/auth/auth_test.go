package auth

import (
	"net/http"
	"time"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestToken_RoundTrip(t *testing.T) {
	tok, err := NewToken("s3cret", 42, 5)
	require.NoError(t, err)

	claims, err := ParseToken("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "chatsync", claims.Issuer)

	_, err = ParseToken("other", tok)
	assert.Error(t, err)
}

func TestIssuer_Session(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	iss := Issuer{Secret: "s3cret", TTL: time.Hour, Now: func() time.Time { return now }}

	s, err := iss.Issue(9)
	require.NoError(t, err)
	assert.Equal(t, TokenType, s.Type)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), s.ExpiresAt)

	_, err = ParseToken("s3cret", s.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired an hour after the fixed clock")

	iss.Now = time.Now
	s, err = iss.Issue(9)
	require.NoError(t, err)
	claims, err := ParseToken("s3cret", s.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.UserID)
	assert.Equal(t, s.ExpiresAt, claims.ExpiresAt.Time.UTC())
}

func TestParseToken_RejectsForeignClaims(t *testing.T) {
	sign := func(c Claims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		return tok
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]Claims{
		"no expiry":    {UserID: 1, RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}},
		"other issuer": {UserID: 1, RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere", ExpiresAt: exp}},
		"no user":      {RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: exp}},
	}
	for name, c := range cases {
		_, err := ParseToken("s3cret", sign(c))
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: exp}}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken("s3cret", hs512)
	assert.ErrorIs(t, err, ErrInvalidToken, "only HS256 is accepted")
}

func TestToken_Expired(t *testing.T) {
	tok, err := NewToken("s3cret", 42, -1)
	require.NoError(t, err)
	_, err = ParseToken("s3cret", tok)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.Error(t, CheckPassword(hash, "battery staple"))
}

func TestJWTMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWTMiddleware("s3cret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": MustUserID(c)})
	})

	tok, err := NewToken("s3cret", 7, 5)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Token " + tok, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.JSONEq(t, `{"uid":7}`, w.Body.String())
			}
		})
	}
}

func TestBearerToken_QueryFallback(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	assert.Equal(t, "abc", BearerToken(c))

	c.Request.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", BearerToken(c))
}
