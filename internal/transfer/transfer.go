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

// Package transfer is the bidirectional streaming file-transfer
// surface (C6): chunked download and chunked upload over a single
// websocket endpoint, with rate-limiting and size caps.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/r5labs/r5peer/internal/metrics"
	"github.com/r5labs/r5peer/internal/peerconfig"
	"github.com/r5labs/r5peer/internal/peerstate"
	"github.com/r5labs/r5peer/log"
)

const (
	chunkSize       = 64 * 1024
	chunkPause      = time.Millisecond
	maxUploadBytes  = 100 * 1024 * 1024
	pingInterval    = 30 * time.Second
	pongWait        = 35 * time.Second
	writeWait       = 5 * time.Second
	wsReadLimit     = int64(maxUploadBytes + 4096)
)

// frame is the wire envelope multiplexing control messages ("op") and
// data chunks over the one websocket connection.
type frame struct {
	Op       string `json:"op,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Seq      uint32 `json:"seq,omitempty"`
}

// UploadStatus is the unary response returned at the end of an
// upload stream.
type UploadStatus struct {
	ReceivedBytes uint64 `json:"received_bytes"`
	Chunks        uint32 `json:"chunks"`
}

// Server is the websocket transfer surface, sharing peerstate.State
// and metrics.Sink with the control surface.
type Server struct {
	cfg    *peerconfig.Config
	state  *peerstate.State
	sink   *metrics.Sink
	log    *log.Logger
	upgrader websocket.Upgrader
}

// New constructs a transfer Server.
func New(cfg *peerconfig.Config, state *peerstate.State, sink *metrics.Sink) *Server {
	return &Server{
		cfg:   cfg,
		state: state,
		sink:  sink,
		log:   log.NewContext("component", "transfer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  chunkSize,
			WriteBufferSize: chunkSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the /transfer endpoint and dispatches to Download
// or Upload based on the client's first frame.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		conn.SetReadLimit(wsReadLimit)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepalive(ctx, conn)
		}()

		var first frame
		if err := conn.ReadJSON(&first); err != nil {
			s.log.Warn("failed to read opening frame", "err", err)
			cancel()
			wg.Wait()
			return
		}

		client := clientIdentity(r)
		switch first.Op {
		case "download":
			s.download(ctx, conn, client, first.Filename)
		case "upload":
			s.upload(ctx, conn, client)
		default:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "unknown op"))
		}

		cancel()
		wg.Wait()
	})
}

func clientIdentity(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-For"); host != "" {
		return host
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// keepalive sends a ping every 30s with a 5s write deadline, so idle
// transfer connections are detected and torn down promptly.
func (s *Server) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func abortResourceExhausted(conn *websocket.Conn, reason string) {
	conn.WriteJSON(frame{Op: "error", Data: []byte(reason)})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "resource-exhausted"))
}

// download streams shared_dir/filename in 64KiB chunks, seq starting
// at 1. A missing file is reported as a single not-found chunk with
// seq 1, after which the stream ends with a normal close. A rate-limit
// denial is reported as one "error" frame followed by a close with a
// policy-violation code (resource-exhausted).
func (s *Server) download(ctx context.Context, conn *websocket.Conn, client, filename string) {
	if !s.state.CheckRateLimit(client, peerstate.Downloads, s.cfg.RateLimit.DownloadsPerMinute) {
		s.sink.RecordRateLimitHit("downloads")
		abortResourceExhausted(conn, "Download rate limit exceeded")
		return
	}

	path := s.cfg.SharedDir + string(os.PathSeparator) + filename
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		msg := fmt.Sprintf("File %s not found on %s", filename, s.cfg.Name)
		conn.WriteJSON(frame{Data: []byte(msg), Seq: 1})
		s.sink.RecordTransfer("download", int64(len(msg)))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		msg := fmt.Sprintf("Error reading %s: %v", filename, err)
		conn.WriteJSON(frame{Data: []byte(msg), Seq: 1})
		s.sink.RecordTransfer("download", int64(len(msg)))
		return
	}
	defer f.Close()

	var seq uint32
	var total int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			seq++
			total += int64(n)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := conn.WriteJSON(frame{Data: chunk, Seq: seq}); err != nil {
				s.log.Warn("download write failed", "filename", filename, "err", err)
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				msg := fmt.Sprintf("Error reading %s: %v", filename, readErr)
				seq++
				conn.WriteJSON(frame{Data: []byte(msg), Seq: seq})
			}
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(chunkPause):
		}
	}

	s.sink.RecordTransfer("download", total)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// upload accepts a stream of chunk frames sharing the downloads rate
// bucket, enforcing a 100MiB hard cap, and returns the received-bytes
// / chunk-count totals on a clean end-of-input.
func (s *Server) upload(ctx context.Context, conn *websocket.Conn, client string) {
	if !s.state.CheckRateLimit(client, peerstate.Downloads, s.cfg.RateLimit.DownloadsPerMinute) {
		s.sink.RecordRateLimitHit("downloads")
		abortResourceExhausted(conn, "Upload rate limit exceeded")
		return
	}

	var total uint64
	var chunks uint32
	var lastSeq uint32

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				status := UploadStatus{ReceivedBytes: total, Chunks: chunks}
				conn.WriteJSON(status)
				s.sink.RecordTransfer("upload", int64(total))
				return
			}
			s.log.Warn("upload stream ended abnormally", "client", client, "err", err)
			return
		}
		if f.Op == "end" {
			status := UploadStatus{ReceivedBytes: total, Chunks: chunks}
			conn.WriteJSON(status)
			s.sink.RecordTransfer("upload", int64(total))
			return
		}

		if len(f.Data) > 0 {
			chunks++
			total += uint64(len(f.Data))
			if f.Seq < lastSeq {
				s.log.Warn("out of order upload chunk", "client", client, "seq", f.Seq, "last_seq", lastSeq)
			}
			lastSeq = f.Seq

			if total > maxUploadBytes {
				abortResourceExhausted(conn, "Upload size limit exceeded")
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(chunkPause):
			}
		}
	}
}
