package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
	"github.com/stonevault/gate/internal/services/gate/allowlist"
)

// adminSecretHeader is the dedicated credential header; the Authorization
// bearer form is accepted as well.
const adminSecretHeader = "X-Gate-Admin-Secret"

type adminApplyRequest struct {
	Operation   string              `json:"operation,omitempty"`
	ApplyMode   string              `json:"applyMode,omitempty"`
	ProofTokens []string            `json:"proofTokens,omitempty"`
	HashLists   map[string][]string `json:"hashLists,omitempty"`
	MinVersion  string              `json:"minVersion,omitempty"`
}

type adminCurrentHashRequest struct {
	Hash              string   `json:"hash"`
	Target            string   `json:"target,omitempty"`
	Targets           []string `json:"targets,omitempty"`
	ReplaceTargetList bool     `json:"replaceTargetList,omitempty"`
	ClearOtherHashes  bool     `json:"clearOtherHashes,omitempty"`
}

type adminViewResponse struct {
	OK        bool            `json:"ok"`
	Message   string          `json:"message,omitempty"`
	Source    string          `json:"source,omitempty"`
	Allowlist allowlist.Model `json:"allowlist"`
}

// authorizeAdmin gates admin routes behind the shared secret. No configured
// secret disables the routes entirely; the comparison is constant-time so a
// probing caller learns nothing from response latency.
func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AdminSecret == "" {
		writeError(w, apperrors.New(apperrors.CodeAdminDisabled, "admin routes are disabled"))
		return false
	}
	presented := strings.TrimSpace(r.Header.Get(adminSecretHeader))
	if presented == "" {
		presented = bearerToken(r)
	}
	if !secretsEqual(presented, s.cfg.AdminSecret) {
		writeError(w, apperrors.New(apperrors.CodeAdminUnauthorized, "admin credential is invalid"))
		return false
	}
	return true
}

// handleAdminAllowlist serves the current policy view, applies submitted
// models under an apply mode, and clears the runtime override.
func (s *Server) handleAdminAllowlist(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		snapshot := s.cache.Snapshot()
		writeJSON(w, http.StatusOK, adminViewResponse{
			OK:        true,
			Source:    snapshot.Source(),
			Allowlist: snapshot.View(),
		})
	case http.MethodPost:
		s.handleAdminApply(w, r)
	case http.MethodDelete:
		snapshot := s.cache.ClearOverride(r.Context())
		writeJSON(w, http.StatusOK, adminViewResponse{
			OK:        true,
			Message:   "runtime override cleared",
			Source:    snapshot.Source(),
			Allowlist: snapshot.View(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAdminApply(w http.ResponseWriter, r *http.Request) {
	var req adminApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRequestInvalid, "invalid request body", err))
		return
	}
	mode, ok := applyMode(req)
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeAdminInvalidOperation, "unknown operation"))
		return
	}

	model := allowlist.Model{
		ProofTokens: req.ProofTokens,
		HashLists:   req.HashLists,
		MinVersion:  req.MinVersion,
	}
	view, err := s.cache.Apply(mode, model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminViewResponse{
		OK:        true,
		Message:   "allowlist updated",
		Source:    allowlist.SourceRuntimeOverride,
		Allowlist: view,
	})
}

// handleAdminCurrentHash is the convenience operation that promotes a single
// hash to the sole entry for one or more targets.
func (s *Server) handleAdminCurrentHash(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req adminCurrentHashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRequestInvalid, "invalid request body", err))
		return
	}
	targets := req.Targets
	if len(targets) == 0 && strings.TrimSpace(req.Target) != "" {
		targets = []string{req.Target}
	}

	view, err := s.cache.SetCurrentHash(req.Hash, targets, req.ReplaceTargetList, req.ClearOtherHashes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminViewResponse{
		OK:        true,
		Message:   "current hash installed",
		Source:    allowlist.SourceRuntimeOverride,
		Allowlist: view,
	})
}

// applyMode resolves the requested operation to a cache apply mode. The
// operation field wins; applyMode is accepted as an alias for older admin
// tooling.
func applyMode(req adminApplyRequest) (allowlist.ApplyMode, bool) {
	op := strings.TrimSpace(strings.ToLower(req.Operation))
	if op == "" {
		op = strings.TrimSpace(strings.ToLower(req.ApplyMode))
	}
	switch op {
	case "replace":
		return allowlist.ApplyReplace, true
	case "add", "merge":
		return allowlist.ApplyMerge, true
	case "remove":
		return allowlist.ApplyRemove, true
	}
	return "", false
}

// secretsEqual compares credentials in constant time.
func secretsEqual(presented, configured string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
