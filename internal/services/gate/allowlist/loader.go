package allowlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
)

// defaultRawBaseURL is the raw-file API of the content repository hosting
// the published allowlist document.
const defaultRawBaseURL = "https://raw.githubusercontent.com"

// remoteFetchLimit bounds how much of a remote document is read. Allowlist
// documents are small; anything larger is a misconfigured source.
const remoteFetchLimit = 1 << 20

// RemoteConfig locates the allowlist document in a version-controlled
// content repository, fetched through its raw-file API.
type RemoteConfig struct {
	Repo    string // "owner/name"
	Branch  string
	Path    string
	Token   string // optional bearer credential
	BaseURL string // overridable for tests; defaults to the GitHub raw API
}

func (r RemoteConfig) configured() bool {
	return strings.TrimSpace(r.Repo) != "" && strings.TrimSpace(r.Path) != ""
}

func (r RemoteConfig) fetchURL() string {
	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		base = defaultRawBaseURL
	}
	branch := strings.TrimSpace(r.Branch)
	if branch == "" {
		branch = "main"
	}
	segments := []string{base, strings.Trim(r.Repo, "/"), branch, strings.TrimLeft(r.Path, "/")}
	return strings.Join(segments, "/")
}

// sourceTag is the provenance recorded on snapshots loaded from this remote.
func (r RemoteConfig) sourceTag() string {
	return fmt.Sprintf("github:%s/%s", strings.Trim(r.Repo, "/"), strings.TrimLeft(r.Path, "/"))
}

// Loader fetches allowlist snapshots from ranked sources: a runtime override
// supplied by the caller, a local file, then the remote document. The first
// source that yields a usable model wins; every failure below a source is a
// logged miss, never a fatal error.
type Loader struct {
	FilePath string
	Remote   RemoteConfig

	// HTTPClient is used for remote fetches. A nil client falls back to a
	// default with a bounded timeout.
	HTTPClient *http.Client
}

// Load tries each source in priority order and returns the winning snapshot.
// The override, when present, represents the operator's most recent explicit
// decision and outranks both file and remote. When every source misses, Load
// returns an error; the cache decides the fallback.
func (l *Loader) Load(ctx context.Context, override *Model, now time.Time) (Snapshot, error) {
	if override != nil {
		return NewSnapshot(*override, SourceRuntimeOverride, now), nil
	}

	if snapshot, ok := l.loadFile(now); ok {
		return snapshot, nil
	}

	if snapshot, ok := l.loadRemote(ctx, now); ok {
		return snapshot, nil
	}

	if err := ctx.Err(); err != nil {
		return Snapshot{}, apperrors.Wrap(apperrors.CodeAllowlistSourceUnavailable, "allowlist load canceled", err)
	}
	return Snapshot{}, apperrors.New(apperrors.CodeAllowlistSourceUnavailable, "no allowlist source available")
}

// loadFile reads the configured local file, if any. Parse failures fall
// through to the next source.
func (l *Loader) loadFile(now time.Time) (Snapshot, bool) {
	path := strings.TrimSpace(l.FilePath)
	if path == "" {
		return Snapshot{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("allowlist: read %s: %v", path, err)
		}
		return Snapshot{}, false
	}
	model, err := decodeModel(data, filepath.Ext(path))
	if err != nil {
		log.Printf("allowlist: parse %s: %v", path, err)
		return Snapshot{}, false
	}
	return NewSnapshot(model, "file:"+path, now), true
}

// loadRemote fetches the allowlist document from the content repository.
// Non-success status or a malformed document is a miss.
func (l *Loader) loadRemote(ctx context.Context, now time.Time) (Snapshot, bool) {
	if !l.Remote.configured() {
		return Snapshot{}, false
	}
	fetchURL := l.Remote.fetchURL()
	if _, err := url.Parse(fetchURL); err != nil {
		log.Printf("allowlist: invalid remote url %q: %v", fetchURL, err)
		return Snapshot{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		log.Printf("allowlist: build remote request: %v", err)
		return Snapshot{}, false
	}
	if token := strings.TrimSpace(l.Remote.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("allowlist: fetch remote: %v", err)
		return Snapshot{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("allowlist: remote returned %d", resp.StatusCode)
		return Snapshot{}, false
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, remoteFetchLimit))
	if err != nil {
		log.Printf("allowlist: read remote body: %v", err)
		return Snapshot{}, false
	}
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		log.Printf("allowlist: parse remote document: %v", err)
		return Snapshot{}, false
	}
	return NewSnapshot(model, l.Remote.sourceTag(), now), true
}

// decodeModel parses an allowlist document. The local override file may be
// YAML when named with a .yaml/.yml extension; everything else is JSON.
func decodeModel(data []byte, ext string) (Model, error) {
	var model Model
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &model); err != nil {
			return Model{}, apperrors.Wrap(apperrors.CodeAllowlistParse, "decode yaml allowlist", err)
		}
	default:
		if err := json.Unmarshal(data, &model); err != nil {
			return Model{}, apperrors.Wrap(apperrors.CodeAllowlistParse, "decode json allowlist", err)
		}
	}
	return model, nil
}
