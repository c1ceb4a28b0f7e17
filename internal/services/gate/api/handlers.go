package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
	"github.com/stonevault/gate/internal/services/gate/allowlist"
	"github.com/stonevault/gate/internal/services/gate/ticket"
)

// Server exposes the gate over HTTP: ticket issuance and validation, the
// protected collaborator routes, the admin policy editor, and the refresh
// trigger.
type Server struct {
	cfg       Config
	cache     *allowlist.Cache
	tickets   *ticket.Service
	providers Providers
}

// NewServer wires the HTTP surface around the cache and ticket service. The
// cache is owned by the caller and injected here; handlers never reach for
// process-global state.
func NewServer(cfg Config, cache *allowlist.Cache, tickets *ticket.Service, providers Providers) *Server {
	return &Server{cfg: cfg, cache: cache, tickets: tickets, providers: providers}
}

// RegisterRoutes wires gate routes into the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/tickets", withSpan("tickets.issue", s.handleIssue))
	mux.HandleFunc("/v1/tickets/validate", withSpan("tickets.validate", s.handleValidate))
	mux.HandleFunc("/v1/allowlist/refresh", withSpan("allowlist.refresh", s.handleRefresh))
	mux.HandleFunc("/v1/identity", withSpan("identity", s.requireTicket(s.handleIdentity)))
	mux.HandleFunc("/v1/friends", withSpan("friends", s.requireTicket(s.handleFriends)))
	mux.HandleFunc("/v1/presence", withSpan("presence", s.requireTicket(s.handlePresence)))
	mux.HandleFunc("/v1/admin/allowlist", withSpan("admin.allowlist", s.handleAdminAllowlist))
	mux.HandleFunc("/v1/admin/allowlist/current-hash", withSpan("admin.current-hash", s.handleAdminCurrentHash))
}

type issueRequest struct {
	BuildFlavor   string `json:"buildFlavor"`
	ExeHash       string `json:"exeHash"`
	Proof         string `json:"proof,omitempty"`
	GameVersion   string `json:"gameVersion"`
	ProductUserID string `json:"productUserId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
}

type issueResponse struct {
	OK           bool   `json:"ok"`
	Ticket       string `json:"ticket,omitempty"`
	ExpiresAtUtc string `json:"expiresAtUtc,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type validateRequest struct {
	Ticket          string `json:"ticket"`
	RequiredChannel string `json:"requiredChannel,omitempty"`
}

type validateResponse struct {
	OK           bool   `json:"ok"`
	Channel      string `json:"channel,omitempty"`
	ExpiresAtUtc string `json:"expiresAtUtc,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type refreshResponse struct {
	OK             bool   `json:"ok"`
	Source         string `json:"source"`
	RefreshedAtUtc string `json:"refreshedAtUtc"`
}

type errorResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// handleIssue decides a ticket request. Policy denials are HTTP 200 with
// ok:false; only a misconfigured gate produces a non-success status.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRequestInvalid, "invalid request body", err))
		return
	}

	result, err := s.tickets.Issue(r.Context(), ticket.IssueRequest{
		BuildFlavor:   req.BuildFlavor,
		ExeHash:       req.ExeHash,
		Proof:         req.Proof,
		GameVersion:   req.GameVersion,
		ProductUserID: req.ProductUserID,
		DisplayName:   req.DisplayName,
	})
	if err != nil {
		log.Printf("gate: issue ticket: %v", err)
		writeNotConfigured(w)
		return
	}
	if !result.Approved {
		writeJSON(w, http.StatusOK, issueResponse{Reason: result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, issueResponse{
		OK:           true,
		Ticket:       result.Ticket,
		ExpiresAtUtc: result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleValidate is the standalone ticket check used by collaborators that
// validate tickets out of band. Failures carry no detail beyond
// "unauthorized".
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRequestInvalid, "invalid request body", err))
		return
	}

	claims, err := s.tickets.Validate(r.Context(), req.Ticket)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeGateNotConfigured {
			writeNotConfigured(w)
			return
		}
		writeJSON(w, http.StatusOK, validateResponse{Reason: "unauthorized"})
		return
	}
	if err := ticket.RequireChannel(claims, req.RequiredChannel); err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Reason: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		OK:           true,
		Channel:      claims.Channel,
		ExpiresAtUtc: claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleRefresh is the webhook-style trigger that forces an immediate cache
// refresh, bypassing the interval. When a webhook token is configured the
// trigger requires it; otherwise the endpoint is open, matching the
// lightly-authenticated contract of source-control webhooks.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.WebhookToken != "" && !secretsEqual(webhookToken(r), s.cfg.WebhookToken) {
		writeUnauthorized(w)
		return
	}
	snapshot := s.cache.ForceRefresh(r.Context())
	writeJSON(w, http.StatusOK, refreshResponse{
		OK:             true,
		Source:         snapshot.Source(),
		RefreshedAtUtc: snapshot.RefreshedAt().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Protected routes hand the validated identity to the external registries.

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	s.handleProvider(w, r, s.providers.Identity)
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	s.handleProvider(w, r, s.providers.Friends)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	s.handleProvider(w, r, s.providers.Presence)
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request, provider Provider) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, ProviderResult{Message: "provider is not configured"})
		return
	}
	result, err := provider.Query(r.Context(), identity)
	if err != nil {
		log.Printf("gate: provider query: %v", err)
		writeJSON(w, http.StatusBadGateway, ProviderResult{Message: "provider unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// webhookToken extracts the refresh trigger credential.
func webhookToken(r *http.Request) string {
	if token := r.Header.Get("X-Gate-Webhook-Token"); token != "" {
		return token
	}
	return bearerToken(r)
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("gate: encode response: %v", err)
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Reason: "unauthorized"})
}

// writeError maps a domain error onto the HTTP surface via its code.
// Unauthorized outcomes share one reason regardless of which check failed.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.CodeOf(err).HTTPStatus()
	if status == http.StatusUnauthorized {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, status, errorResponse{Reason: err.Error()})
}

func writeNotConfigured(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Reason: "gate is not configured"})
}
