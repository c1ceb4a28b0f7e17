package ticket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
	"github.com/stonevault/gate/internal/services/gate/allowlist"
)

// Channels recorded on issued tickets. Build flavors collapse to exactly
// these two values; downstream authorization keys off them.
const (
	ChannelDev     = "dev"
	ChannelRelease = "release"
)

// IssueRequest is a client's request for a session ticket.
type IssueRequest struct {
	BuildFlavor   string
	ExeHash       string
	Proof         string // base64-encoded proof blob, optional
	GameVersion   string
	ProductUserID string
	DisplayName   string
}

// IssueResult is the policy decision for an issuance request. Denial is an
// expected business outcome, not a fault: the reason explains why in plain
// language, and Approved results carry the minted ticket.
type IssueResult struct {
	Approved  bool
	Ticket    string
	ExpiresAt time.Time
	Reason    string
}

// Service applies admission policy to issuance requests and validates
// presented tickets for protected routes.
type Service struct {
	cache *allowlist.Cache
	codec *Codec
	ttl   time.Duration

	// perChannelLists consults each channel's own hash list (with the
	// shared client list as backstop) instead of the flat union. The data
	// model carries per-target lists either way; this only changes which
	// lists the policy check reads.
	perChannelLists bool
}

// NewService creates a ticket service. A non-positive ttl falls back to the
// default window.
func NewService(cache *allowlist.Cache, codec *Codec, ttl time.Duration, perChannelLists bool) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{cache: cache, codec: codec, ttl: ttl, perChannelLists: perChannelLists}
}

// NormalizeChannel collapses a declared build flavor to a ticket channel.
// Only builds that declare themselves release builds get the release
// channel; dev, community, and anything unrecognized are treated as dev.
func NormalizeChannel(flavor string) string {
	if strings.EqualFold(strings.TrimSpace(flavor), ChannelRelease) {
		return ChannelRelease
	}
	return ChannelDev
}

// Denied builds a soft-failure result with a human-readable reason.
func Denied(reason string) IssueResult {
	return IssueResult{Reason: reason}
}

// Issue decides whether the requesting build may play online and mints a
// ticket when it may. It returns an error only when the gate itself is
// misconfigured; every policy outcome is a well-formed result.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	if !s.codec.Configured() {
		return IssueResult{}, apperrors.New(apperrors.CodeGateNotConfigured, "ticket signing key is not configured")
	}

	snapshot := s.cache.Get(ctx)
	if snapshot.IsDenyAll() {
		return Denied("Allowlist unavailable"), nil
	}

	channel := NormalizeChannel(req.BuildFlavor)
	hash := strings.ToLower(strings.TrimSpace(req.ExeHash))

	verified := false
	if hash != "" {
		if s.perChannelLists {
			verified = snapshot.HasHashForTarget(channel, hash)
		} else {
			verified = snapshot.HasHash(hash)
		}
	}
	if !verified {
		if proof, ok := decodeProof(req.Proof); ok {
			verified = snapshot.HasProofToken(proof)
		}
	}
	if !verified {
		return Denied("Build is not allowlisted"), nil
	}

	if reason, ok := versionTooOld(req.GameVersion, snapshot.MinVersion()); ok {
		return Denied(reason), nil
	}

	token, expiresAt, err := s.codec.Sign(
		strings.TrimSpace(req.ProductUserID),
		strings.TrimSpace(req.DisplayName),
		channel,
		hash,
		s.ttl,
	)
	if err != nil {
		return IssueResult{}, err
	}
	return IssueResult{Approved: true, Ticket: token, ExpiresAt: expiresAt}, nil
}

// Validate checks a presented ticket for a protected route. It fails closed
// when the gate has no signing key, and otherwise defers to the codec.
func (s *Service) Validate(ctx context.Context, token string) (Claims, error) {
	_ = ctx // verification is pure CPU work; kept for interface symmetry
	if !s.codec.Configured() {
		return Claims{}, apperrors.New(apperrors.CodeGateNotConfigured, "ticket signing key is not configured")
	}
	return s.codec.Verify(token)
}

// RequireChannel asserts that validated claims satisfy a caller-demanded
// channel. An empty requirement always passes; the requirement is normalized
// the same way issuance normalizes build flavors.
func RequireChannel(claims Claims, required string) error {
	if strings.TrimSpace(required) == "" {
		return nil
	}
	if claims.Channel != NormalizeChannel(required) {
		return apperrors.WithMetadata(
			apperrors.CodeTicketChannelMismatch,
			"ticket channel does not satisfy the required channel",
			map[string]string{"Channel": claims.Channel},
		)
	}
	return nil
}

// decodeProof decodes the base64 proof blob to its plain string form. Both
// padded and raw encodings are accepted; anything undecodable is no proof.
func decodeProof(proof string) (string, bool) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return "", false
	}
	if decoded, err := base64.StdEncoding.DecodeString(proof); err == nil {
		return string(decoded), true
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(proof); err == nil {
		return string(decoded), true
	}
	return "", false
}

// versionTooOld reports whether the client's declared version is strictly
// below the policy minimum. Short versions are padded to three components
// ("6" compares as "6.0.0"). Unparsable client versions pass: a malformed
// version string must not brick an otherwise approved build.
func versionTooOld(gameVersion, minVersion string) (string, bool) {
	client, ok := canonicalVersion(gameVersion)
	if !ok {
		return "", false
	}
	minimum, ok := canonicalVersion(minVersion)
	if !ok {
		return "", false
	}
	if semver.Compare(client, minimum) < 0 {
		return fmt.Sprintf("Client version too old. Minimum: %s", strings.TrimPrefix(minimum, "v")), true
	}
	return "", false
}

// canonicalVersion converts a loose version string to canonical semver form
// with all three components present.
func canonicalVersion(version string) (string, bool) {
	version = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if version == "" {
		return "", false
	}
	canonical := semver.Canonical("v" + version)
	if canonical == "" {
		return "", false
	}
	return canonical, true
}

// ErrNotConfigured reports whether err is the gate's missing-configuration
// error, letting callers distinguish hard failures from policy denials.
func ErrNotConfigured(err error) bool {
	return errors.Is(err, apperrors.New(apperrors.CodeGateNotConfigured, ""))
}
