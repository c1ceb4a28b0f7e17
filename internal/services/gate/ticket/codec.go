package ticket

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
)

// Defaults for ticket minting. Issuer and audience are asserted on every
// verification, not merely recorded.
const (
	DefaultIssuer   = "stonevault-gate"
	DefaultAudience = "stonevault-game"
	DefaultTTL      = 30 * time.Minute
)

// Claims captures the validated contents of a gate ticket.
type Claims struct {
	Issuer        string
	Audience      []string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	ProductUserID string
	DisplayName   string
	Channel       string
	BuildHash     string
}

// gateClaims is the internal claims type used for JWT signing and parsing.
type gateClaims struct {
	jwt.RegisteredClaims
	ProductUserID string `json:"puid,omitempty"`
	DisplayName   string `json:"name,omitempty"`
	Channel       string `json:"chan"`
	BuildHash     string `json:"hash,omitempty"`
}

// Codec signs and verifies gate tickets. Tickets are compact HS256 JWTs; the
// algorithm is pinned, so a forged header cannot negotiate a weaker one.
type Codec struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewCodec creates a codec for the given signing key. Empty issuer/audience
// fall back to the gate defaults; a nil clock falls back to time.Now.
func NewCodec(key []byte, issuer, audience string, now func() time.Time) *Codec {
	if issuer = strings.TrimSpace(issuer); issuer == "" {
		issuer = DefaultIssuer
	}
	if audience = strings.TrimSpace(audience); audience == "" {
		audience = DefaultAudience
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{key: key, issuer: issuer, audience: audience, now: now}
}

// Configured reports whether a signing key is present.
func (c *Codec) Configured() bool {
	return c != nil && len(c.key) > 0
}

// Sign mints a ticket for the given identity, expiring ttl from now. Expiry
// is always issued-at plus ttl.
func (c *Codec) Sign(productUserID, displayName, channel, buildHash string, ttl time.Duration) (string, time.Time, error) {
	if !c.Configured() {
		return "", time.Time{}, apperrors.New(apperrors.CodeGateNotConfigured, "ticket signing key is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// JWT numeric dates carry whole seconds; truncate so the returned
	// expiry matches what the ticket itself will report on verification.
	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := gateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ProductUserID: productUserID,
		DisplayName:   displayName,
		Channel:       channel,
		BuildHash:     buildHash,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(apperrors.CodeUnknown, "sign ticket", err)
	}
	return token, expiresAt, nil
}

// Verify checks a presented ticket and returns its claims. The signature is
// checked first (constant-time HMAC comparison inside the library), then
// expiry, issuer, and audience are asserted against the codec's constants.
func (c *Codec) Verify(token string) (Claims, error) {
	if !c.Configured() {
		return Claims{}, apperrors.New(apperrors.CodeGateNotConfigured, "ticket signing key is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeTicketMalformed, "ticket is required")
	}

	var parsed gateClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeTicketMalformed, "ticket exp is required")
	}
	now := c.now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeTicketExpired, "ticket is expired")
	}
	if parsed.Issuer == "" || parsed.Issuer != c.issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeTicketIssuerMismatch,
			"ticket issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, c.audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeTicketAudienceMismatch,
			"ticket audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.Channel != ChannelDev && parsed.Channel != ChannelRelease {
		return Claims{}, apperrors.New(apperrors.CodeTicketMalformed, "ticket channel is invalid")
	}

	claims := Claims{
		Issuer:        parsed.Issuer,
		Audience:      []string(parsed.Audience),
		ExpiresAt:     exp,
		ProductUserID: parsed.ProductUserID,
		DisplayName:   parsed.DisplayName,
		Channel:       parsed.Channel,
		BuildHash:     parsed.BuildHash,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to domain errors. Signature
// failures get a distinct internal code; everything else is malformed. The
// HTTP surface reports all of them as one uniform unauthorized response.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeTicketSignatureInvalid, "ticket signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTicketSignatureInvalid, "ticket alg is invalid")
	}
	return apperrors.Wrap(apperrors.CodeTicketMalformed, "ticket is malformed", err)
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
