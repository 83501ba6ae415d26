// Copyright 2026 R5 Labs
// This file is part of the r5peer library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package peernode

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r5labs/r5peer/internal/peerconfig"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestPeerStartsServesHealthAndShutsDownCleanly(t *testing.T) {
	restPort := freePort(t)
	grpcPort := freePort(t)

	cfg := &peerconfig.Config{
		Name:      "peer1",
		IP:        "127.0.0.1",
		RestPort:  restPort,
		GRPCPort:  grpcPort,
		SharedDir: t.TempDir(),
		SelfURL:   fmt.Sprintf("http://127.0.0.1:%d", restPort),
		RateLimit: peerconfig.RateLimit{RequestsPerMinute: 100, DownloadsPerMinute: 10},
		HealthCheck: 30,
		StorageDir:  t.TempDir(),
	}

	p := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", restPort))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("peer did not shut down within the grace period")
	}
}
