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

package transfer

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r5labs/r5peer/internal/metrics"
	"github.com/r5labs/r5peer/internal/peerconfig"
	"github.com/r5labs/r5peer/internal/peerstate"
)

func newTestServer(t *testing.T, downloadsPerMinute int) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &peerconfig.Config{
		Name:      "peer1",
		SelfURL:   "http://self:8000",
		SharedDir: dir,
		RateLimit: peerconfig.RateLimit{RequestsPerMinute: 1000, DownloadsPerMinute: downloadsPerMinute},
	}
	state := peerstate.New(cfg.SelfURL, t.TempDir())
	sink := metrics.New(cfg.Name)
	srv := New(cfg, state, sink)

	ts := httptest.NewServer(srv.Handler())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return ts, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

// Invariant 7: a downloaded file's bytes reassemble exactly, with
// strictly increasing sequence numbers.
func TestDownloadRoundTripIsByteExactAndOrdered(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 5000) // spans multiple 64KiB chunks
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(content), 0o644))

	cfg := &peerconfig.Config{
		Name:      "peer1",
		SelfURL:   "http://self:8000",
		SharedDir: dir,
		RateLimit: peerconfig.RateLimit{RequestsPerMinute: 1000, DownloadsPerMinute: 10},
	}
	state := peerstate.New(cfg.SelfURL, t.TempDir())
	sink := metrics.New(cfg.Name)
	srv := New(cfg, state, sink)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn := dial(t, wsURL)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(frame{Op: "download", Filename: "big.txt"}))

	var reassembled []byte
	var lastSeq uint32
	for {
		var f frame
		err := conn.ReadJSON(&f)
		if err != nil {
			break
		}
		assert.Greater(t, f.Seq, lastSeq, "sequence numbers must strictly increase")
		lastSeq = f.Seq
		reassembled = append(reassembled, f.Data...)
	}

	assert.Equal(t, content, string(reassembled))
}

// Scenario S6: requesting a file that does not exist yields a single
// "not found" text chunk, not an error close.
func TestDownloadMissingFileYieldsSingleNotFoundChunk(t *testing.T) {
	ts, wsURL := newTestServer(t, 10)
	defer ts.Close()

	conn := dial(t, wsURL)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(frame{Op: "download", Filename: "nope.bin"}))

	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Contains(t, string(f.Data), "not found")
	assert.Equal(t, uint32(1), f.Seq)

	err := conn.ReadJSON(&f)
	assert.Error(t, err, "exactly one chunk should have been sent before close")
}

// Scenario S7: exceeding the per-minute download limit is reported as
// a resource-exhausted close and increments the rate-limit metric.
func TestDownloadOverRateLimitIsResourceExhausted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	cfg := &peerconfig.Config{
		Name:      "peer1",
		SelfURL:   "http://self:8000",
		SharedDir: dir,
		RateLimit: peerconfig.RateLimit{RequestsPerMinute: 1000, DownloadsPerMinute: 1},
	}
	state := peerstate.New(cfg.SelfURL, t.TempDir())
	sink := metrics.New(cfg.Name)
	srv := New(cfg, state, sink)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	// First download consumes the one admission in this 60s window.
	conn1 := dial(t, wsURL)
	require.NoError(t, conn1.WriteJSON(frame{Op: "download", Filename: "f.txt"}))
	for {
		var f frame
		if err := conn1.ReadJSON(&f); err != nil {
			break
		}
	}
	conn1.Close()

	conn2 := dial(t, wsURL)
	defer conn2.Close()
	require.NoError(t, conn2.WriteJSON(frame{Op: "download", Filename: "f.txt"}))

	var f frame
	err := conn2.ReadJSON(&f)
	require.NoError(t, err)
	assert.Equal(t, "error", f.Op)

	_, _, closeErr := conn2.ReadMessage()
	assert.True(t, websocket.IsCloseError(closeErr, websocket.ClosePolicyViolation))
	assert.Contains(t, string(sink.Export()), `p2p_rate_limit_hits_total{peer="peer1",type="downloads"} 1`)
}

// Invariant 8: received_bytes equals the sum of uploaded chunk
// lengths.
func TestUploadReceivedBytesMatchesSentChunks(t *testing.T) {
	ts, wsURL := newTestServer(t, 10)
	defer ts.Close()

	conn := dial(t, wsURL)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(frame{Op: "upload"}))

	chunks := [][]byte{[]byte("hello "), []byte("world"), []byte("!")}
	var want uint64
	for i, c := range chunks {
		want += uint64(len(c))
		require.NoError(t, conn.WriteJSON(frame{Data: c, Seq: uint32(i + 1)}))
	}
	require.NoError(t, conn.WriteJSON(frame{Op: "end"}))

	var status UploadStatus
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, want, status.ReceivedBytes)
	assert.Equal(t, uint32(len(chunks)), status.Chunks)
}

func TestUploadAbruptCloseSendsNoResponse(t *testing.T) {
	cfg := &peerconfig.Config{
		Name:      "peer1",
		SelfURL:   "http://self:8000",
		SharedDir: t.TempDir(),
		RateLimit: peerconfig.RateLimit{RequestsPerMinute: 1000, DownloadsPerMinute: 10},
	}
	state := peerstate.New(cfg.SelfURL, t.TempDir())
	sink := metrics.New(cfg.Name)
	ts := httptest.NewServer(New(cfg, state, sink).Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn := dial(t, wsURL)
	require.NoError(t, conn.WriteJSON(frame{Op: "upload"}))
	require.NoError(t, conn.WriteJSON(frame{Data: []byte("partial"), Seq: 1}))
	conn.Close() // abrupt TCP close, not a clean websocket close handshake

	time.Sleep(50 * time.Millisecond) // give the server goroutine a moment to observe the close

	// An upload status is only ever sent together with an upload
	// transfer record, so no record means no status was sent.
	assert.NotContains(t, string(sink.Export()), `operation="upload"`)
}
