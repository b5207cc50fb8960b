// ABOUTME: Lifecycle tests for the gateway orchestrator.
// ABOUTME: Boots a real server on a loopback port and checks health and shutdown.

package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/moot/internal/config"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestGatewayServesAndShutsDown(t *testing.T) {
	addr := freePort(t)
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = addr
	cfg.Database.Path = filepath.Join(t.TempDir(), "moot.db")

	gw, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Wait for the server to come up
	url := fmt.Sprintf("http://%s/healthz", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestGatewayRejectsBadDatabasePath(t *testing.T) {
	// A regular file where a directory is needed makes store setup fail
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(blocker, "moot.db")

	_, err := New(cfg, nil)
	assert.Error(t, err)
}
