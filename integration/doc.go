//go:build integration

// Package integration provides integration tests for the image pipeline.
//
// These tests require Docker and spin up a real HTTP origin using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
