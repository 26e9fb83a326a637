package auth

import (
	"errors"
	"time"

	"certify-backend/internal/application/authz"
	"certify-backend/internal/pkg/constants"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessToken is a signed HS256 JWT with its expiry.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires"`
}

// Tokens issues and verifies bearer tokens carrying sub and role claims.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokens(secret string, ttlMinutes int) *Tokens {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &Tokens{Secret: []byte(secret), TTL: time.Duration(ttlMinutes) * time.Minute, Now: time.Now}
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Issue signs a token for userID with role.
func (t *Tokens) Issue(userID uuid.UUID, role string) (AccessToken, error) {
	if len(t.Secret) == 0 {
		return AccessToken{}, errors.New("jwt secret not configured")
	}
	now := t.now()
	exp := now.Add(t.TTL)
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Parse verifies raw and returns the caller it names.
func (t *Tokens) Parse(raw string) (authz.Caller, error) {
	if len(t.Secret) == 0 || raw == "" {
		return authz.Anonymous, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		return t.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return authz.Anonymous, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	id, err := uuid.Parse(sub)
	if err != nil || !constants.IsValidRole(role) {
		return authz.Anonymous, ErrInvalidToken
	}
	return authz.Caller{UserID: id, Role: role}, nil
}
