// Package auth validates connection credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("no access token")

// Claims is the access token payload issued by the account service.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTGate validates HS256 access tokens signed with a shared secret.
type JWTGate struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewJWTGate(secret string) *JWTGate {
	g := &JWTGate{secret: []byte(secret), now: time.Now}
	g.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return g.now() }),
	)
	return g
}

func (g *JWTGate) Authenticate(_ context.Context, hs core.Handshake) (domain.UserID, error) {
	if hs.Token == "" {
		return "", fmt.Errorf("%w: %w", core.ErrUnauthorized, ErrNoToken)
	}
	claims := &Claims{}
	tok, err := g.parser.ParseWithClaims(hs.Token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if !tok.Valid {
		return "", fmt.Errorf("%w: token is not valid", core.ErrUnauthorized)
	}
	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	uid, err := domain.ParseUserID(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	return uid, nil
}

// Issue signs a token for uid. Production tokens come from the account
// service; this is used by the dev token command and tests.
func (g *JWTGate) Issue(uid domain.UserID, ttl time.Duration) (string, error) {
	now := g.now()
	claims := Claims{
		Username: string(uid),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(uid),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}
