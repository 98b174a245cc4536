//go:build e2e

// E2E tests require a running research-session-service:
// 1. Start a backing store if configured, e.g.:
//    docker compose -f docker-compose.test.yml up -d --wait
// 2. Start the server:
//    SESSION_STORAGE_DRIVER=memory go run ./cmd/server &
// 3. Run: go test -tags e2e -v ./tests/e2e/...
//
// Set SESSION_API_URL to point at a non-local deployment.
package e2e

import (
	"os"
	"testing"
)

var apiBaseURL string

func TestMain(m *testing.M) {
	apiBaseURL = os.Getenv("SESSION_API_URL")
	if apiBaseURL == "" {
		apiBaseURL = "http://localhost:8080"
	}

	os.Exit(m.Run())
}
