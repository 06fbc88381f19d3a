package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskmesh/gateway/internal/config"
	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
)

// Claims is the credential payload the platform issues. Registered claims
// carry issuer, audience, expiry, subject, and token id; the platform adds
// the caller's role, email, and permission grants.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Verifier validates bearer credentials against the configured algorithm,
// key material, issuer, audience, and the revocation set. Exactly one
// algorithm is active per deployment; tokens naming any other algorithm fail
// signature verification regardless of their key.
type Verifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
	revoked *RevocationSet
	logger  *slog.Logger
}

// NewVerifier builds a Verifier from the auth configuration. Missing or
// unparseable key material is returned as an error; the caller treats it as
// fatal at startup.
func NewVerifier(cfg config.AuthConfig, revoked *RevocationSet) (*Verifier, error) {
	keyFunc, err := buildKeyFunc(cfg)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)

	return &Verifier{
		parser:  parser,
		keyFunc: keyFunc,
		revoked: revoked,
		logger:  slog.Default().With("component", "verifier"),
	}, nil
}

func buildKeyFunc(cfg config.AuthConfig) (jwt.Keyfunc, error) {
	switch cfg.Algorithm {
	case "RS256":
		pemBytes := []byte(cfg.PublicKeyPEM)
		if cfg.PublicKeyFile != "" {
			data, err := os.ReadFile(cfg.PublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("read public key file: %w", err)
			}
			pemBytes = data
		}
		if len(pemBytes) == 0 {
			return nil, fmt.Errorf("RS256 configured without public key material")
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse RSA public key: %w", err)
		}
		return func(*jwt.Token) (any, error) { return pub, nil }, nil
	case "HS256":
		if cfg.HMACSecret == "" {
			return nil, fmt.Errorf("HS256 configured without hmac_secret")
		}
		secret := []byte(cfg.HMACSecret)
		return func(*jwt.Token) (any, error) { return secret, nil }, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
}

// Verify validates a raw bearer credential and produces the caller identity.
// Failures return a *gwerrors.GatewayError tagged with the specific reason
// code; the message never reproduces any part of the credential.
func (v *Verifier) Verify(credential string) (*Identity, error) {
	if credential == "" {
		return nil, gwerrors.NewAuthError(gwerrors.CodeAuthMissing, "bearer credential required")
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(credential, claims, v.keyFunc)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid {
		return nil, gwerrors.NewAuthError(gwerrors.CodeAuthMalformed, "credential is not valid")
	}

	if claims.Subject == "" {
		return nil, gwerrors.NewAuthError(gwerrors.CodeAuthMalformed, "credential carries no subject")
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, gwerrors.NewAuthError(gwerrors.CodeAuthMalformed, "credential carries an unknown role")
	}

	if claims.ID != "" && v.revoked.IsRevoked(claims.ID) {
		v.logger.Info("rejected revoked credential", "subject", claims.Subject, "token_id", claims.ID)
		return nil, gwerrors.NewAuthError(gwerrors.CodeAuthRevoked, "credential has been revoked")
	}

	identity := &Identity{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		Role:        role,
		Permissions: claims.Permissions,
		TokenID:     claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// classifyJWTError maps parser failures to the specific rejection reasons.
// Signature problems are checked before structural ones: a token that fails
// both is reported as a signature failure, never as malformed, so callers
// cannot distinguish key probing from typo'd tokens.
func classifyJWTError(err error) *gwerrors.GatewayError {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return gwerrors.NewAuthError(gwerrors.CodeAuthBadSignature, "credential signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return gwerrors.NewAuthError(gwerrors.CodeAuthExpired, "credential has expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return gwerrors.NewAuthError(gwerrors.CodeAuthWrongIssuer, "credential issuer or audience mismatch")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return gwerrors.NewAuthError(gwerrors.CodeAuthMalformed, "credential is malformed")
	default:
		return gwerrors.NewAuthError(gwerrors.CodeAuthMalformed, "credential could not be verified")
	}
}
