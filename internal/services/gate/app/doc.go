// Package server composes and runs the gate process boundary.
//
// It hosts the HTTP API plus the background allowlist refresh machinery that
// share one policy cache so every admission decision is made from the same
// snapshot.
package server
