package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-isolation/pkg/auth"

// Secret is the HMAC key for session tokens.
type Secret = config.Secret

// minSecretLength is the shortest HMAC key accepted for HS256.
const minSecretLength = 32

// sessionClaims is the token payload. Subject carries the user id.
type sessionClaims struct {
	SessionID string `json:"sid,omitempty"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// SessionValidator issues and validates HS256 session tokens.
type SessionValidator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

// NewSessionValidator returns a validator for tokens signed with secret
// and issued by issuer. An empty issuer disables the issuer check.
func NewSessionValidator(secret Secret, issuer string) (*SessionValidator, error) {
	if len(secret.Value()) < minSecretLength {
		return nil, sserr.Newf(sserr.CodeValidationRange,
			"auth: session secret must be at least %d bytes", minSecretLength)
	}
	return &SessionValidator{
		secret: []byte(secret.Value()),
		issuer: issuer,
		leeway: 5 * time.Second,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}, nil
}

var _ TokenValidator = (*SessionValidator)(nil)

// Issue signs a token for identity that expires after ttl.
func (v *SessionValidator) Issue(identity Identity, ttl time.Duration) (string, error) {
	if identity.UserID == "" {
		return "", sserr.Required("user_id")
	}
	if !identity.Role.Valid() {
		return "", sserr.Validationf("auth: unknown role %q", identity.Role)
	}
	now := v.now()
	claims := sessionClaims{
		SessionID: identity.SessionID,
		Role:      identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "auth: failed to sign session token")
	}
	return signed, nil
}

// Validate verifies the signature, expiry and issuer of token and returns
// the identity it names.
func (v *SessionValidator) Validate(ctx context.Context, token string) (Identity, error) {
	_, span := v.tracer.Start(ctx, "auth.ValidateSession")
	defer span.End()

	identity, err := v.parse(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Identity{}, err
	}
	span.SetAttributes(
		attribute.String("auth.user_id", identity.UserID),
		attribute.String("auth.role", identity.Role.String()),
	)
	span.SetStatus(codes.Ok, "")
	return identity, nil
}

func (v *SessionValidator) parse(token string) (Identity, error) {
	if token == "" {
		return Identity{}, sserr.Unauthorized("auth: missing session token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, classifyError(err)
	}
	if claims.Subject == "" {
		return Identity{}, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token has no subject")
	}
	role, err := ParseRole(string(claims.Role))
	if err != nil {
		return Identity{}, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token role is invalid")
	}

	return Identity{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Role:      role,
		Claims: map[string]any{
			"sub":  claims.Subject,
			"sid":  claims.SessionID,
			"role": string(role),
		},
	}, nil
}

// classifyError maps jwt errors onto AUTH codes.
func classifyError(err error) *sserr.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token validation failed")
	}
}
