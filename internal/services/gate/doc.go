// Package gate decides whether a connecting game build may play online.
//
// It is the single place that owns the build allowlist and session ticket
// issuance so game servers and collaborator services can trust a short-lived
// signed ticket instead of re-checking build provenance themselves.
//
// Subpackages:
//   - app: gate server wiring and lifecycle
//   - api: HTTP handlers, admin routes, and configuration
//   - allowlist: policy model, ranked loader, refresh cache, file watcher
//   - ticket: session ticket signing, verification, and issuance policy
package gate
