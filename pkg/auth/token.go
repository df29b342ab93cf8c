package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/foodops-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// clockSkew tolerates small drift between the token issuer and this service.
const clockSkew = 30 * time.Second

// MintActorToken issues a signed JWT for the provided actor using the configured TTL.
func MintActorToken(cfg config.JWTConfig, now time.Time, payload ActorTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	if strings.TrimSpace(payload.ActorID) == "" {
		return "", fmt.Errorf("actor id is required")
	}
	if !payload.Kind.IsValid() {
		return "", fmt.Errorf("invalid actor kind %q", payload.Kind)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := ActorClaims{
		ActorID: strings.TrimSpace(payload.ActorID),
		Kind:    payload.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strings.TrimSpace(payload.ActorID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseActorToken validates the JWT string and returns typed claims.
func ParseActorToken(cfg config.JWTConfig, tokenString string) (*ActorClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &ActorClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.ActorID) == "" {
		return nil, fmt.Errorf("token missing actor id")
	}
	if !claims.Kind.IsValid() {
		return nil, fmt.Errorf("invalid actor kind %q", claims.Kind)
	}
	return claims, nil
}
