// Package tokend implements the connection-details service: it assigns a
// room and participant identity for each new session and mints the
// single-session token the transport presents in its hello frame.
package tokend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/darkwings/voicecart/pkg/core"
)

// Claims is the verified content of a participant token.
type Claims struct {
	Identity string
	Room     string
}

// Minter signs participant tokens with a shared API secret.
type Minter struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewMinter creates a minter. TTL bounds how long a token can sit unused
// before the transport rejects it; sessions always fetch a fresh one.
func NewMinter(secret, issuer string, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Minter{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Mint signs a token binding identity to room.
func (m *Minter) Mint(identity, room string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  m.issuer,
		"sub":  identity,
		"room": room,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(m.ttl).Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign participant token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a participant token against the shared
// secret. The transport backend calls this on every hello frame.
func Verify(secret, tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, core.NewAuthenticationError("invalid participant token: " + err.Error())
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, core.NewAuthenticationError("invalid participant token claims")
	}
	identity, _ := mapClaims["sub"].(string)
	room, _ := mapClaims["room"].(string)
	if identity == "" || room == "" {
		return Claims{}, core.NewAuthenticationError("participant token missing identity or room")
	}
	return Claims{Identity: identity, Room: room}, nil
}
