package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenType is the scheme clients put in front of a session token.
	TokenType = "Bearer"
	issuer    = "chatsync"
)

var ErrInvalidToken = errors.New("invalid session token")

// Session is an access token as handed to clients on login or register.
type Session struct {
	Token     string    `json:"token"`
	Type      string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Issuer signs sessions with one secret and lifetime.
type Issuer struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

func NewIssuer(secret string, ttlMin int) Issuer {
	return Issuer{Secret: secret, TTL: time.Duration(ttlMin) * time.Minute, Now: time.Now}
}

func (i Issuer) Issue(userID int64) (Session, error) {
	now := i.Now().UTC().Truncate(time.Second)
	exp := now.Add(i.TTL)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.Secret))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: tok, Type: TokenType, ExpiresAt: exp}, nil
}

// NewToken issues a bare token string valid for ttlMin minutes.
func NewToken(secret string, userID int64, ttlMin int) (string, error) {
	s, err := NewIssuer(secret, ttlMin).Issue(userID)
	return s.Token, err
}

// ParseToken accepts only HS256 tokens from this issuer that carry an
// expiry and a user id.
func ParseToken(secret, token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, errors.Join(ErrInvalidToken, jwt.ErrTokenInvalidClaims)
	}
	return &claims, nil
}
