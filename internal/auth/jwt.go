package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims issued to callers of the entitlement API.
// The subject is the actor's UUID and is recorded on audit entries.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
	Roles []Role `json:"roles,omitempty"`
}

// Actor is the authenticated caller of a request.
type Actor struct {
	ID    uuid.UUID
	OrgID uuid.UUID // uuid.Nil for actors not bound to an organization
	Roles []Role
}

type contextKey int

const actorContextKey contextKey = iota

// WithActor returns a copy of ctx carrying the actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext returns the authenticated actor, or nil.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey).(*Actor)
	return actor
}

// ActorID returns the actor as a nullable UUID, invalid when unauthenticated.
func ActorID(ctx context.Context) uuid.NullUUID {
	if actor := ActorFromContext(ctx); actor != nil {
		return uuid.NullUUID{UUID: actor.ID, Valid: true}
	}
	return uuid.NullUUID{}
}

// Verifier validates ES256 tokens against a single public key.
type Verifier struct {
	publicKey *ecdsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier parses a PEM encoded EC public key. Issuer and audience are checked when non-empty.
func NewVerifier(publicKeyPEM, issuer, audience string) (*Verifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not provided")
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &Verifier{publicKey: publicKey, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses and validates a token, returning the actor it identifies.
func (v *Verifier) Verify(tokenString string) (*Actor, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a UUID", ErrUnauthenticated)
	}

	actor := &Actor{ID: actorID, Roles: claims.Roles}
	if claims.OrgID != "" {
		actor.OrgID, err = uuid.Parse(claims.OrgID)
		if err != nil {
			return nil, fmt.Errorf("%w: org_id is not a UUID", ErrUnauthenticated)
		}
	}

	return actor, nil
}
