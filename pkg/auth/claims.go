package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

// ActorTokenPayload captures the data available when minting an actor JWT.
type ActorTokenPayload struct {
	ActorID string
	Kind    enums.ActorKind
	JTI     string
}

// ActorClaims identifies who is mutating orders. Tokens are minted by the
// operator console gateway and by internal services.
type ActorClaims struct {
	ActorID string          `json:"actor_id"`
	Kind    enums.ActorKind `json:"actor_kind"`
	jwt.RegisteredClaims
}
