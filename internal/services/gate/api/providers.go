package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// providerReadLimit bounds how much of a provider response is read.
const providerReadLimit = 1 << 20

// ProviderResult is the uniform response shape of the external identity,
// friends, and presence registries.
type ProviderResult struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Provider is the narrow interface the gate holds on each external registry.
// Registry internals and storage are out of the gate's scope.
type Provider interface {
	Query(ctx context.Context, identity Identity) (ProviderResult, error)
}

// Providers groups the external collaborators consumed by protected routes.
// A nil entry means the collaborator is not deployed alongside this gate.
type Providers struct {
	Identity Provider
	Friends  Provider
	Presence Provider
}

// HTTPProvider queries a registry over HTTP, forwarding the validated ticket
// identity as query parameters.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProvider returns a provider for the given base URL, or nil when the
// URL is empty, so unset collaborators stay disabled. The return type is the
// interface: a typed-nil *HTTPProvider stored in a Provider field would
// defeat the handlers' nil check.
func NewHTTPProvider(baseURL string) Provider {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &HTTPProvider{BaseURL: baseURL}
}

// Query performs the registry call and decodes its {ok, message, data}
// response.
func (p *HTTPProvider) Query(ctx context.Context, identity Identity) (ProviderResult, error) {
	query := url.Values{}
	query.Set("productUserId", identity.ProductUserID)
	query.Set("channel", identity.Channel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return ProviderResult{}, fmt.Errorf("build provider request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return ProviderResult{}, fmt.Errorf("query provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, providerReadLimit))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProviderResult{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	var result ProviderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return ProviderResult{}, fmt.Errorf("decode provider response: %w", err)
	}
	return result, nil
}
