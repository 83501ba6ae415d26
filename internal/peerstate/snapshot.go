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

package peerstate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/r5labs/r5peer/internal/indexer"
	"github.com/r5labs/r5peer/log"
)

const snapshotFile = "peer_state.json"

// persistentSnapshot mirrors the durable JSON document described in
// spec §6: known peers (url -> last_seen) and the per-peer file
// cache (files + cache_time).
type persistentSnapshot struct {
	KnownPeers      map[string]int64            `json:"known_peers"`
	FileCache       map[string][]indexer.FileMeta `json:"file_cache"`
	CacheTimestamps map[string]int64            `json:"cache_timestamps"`
}

// snapshotStore wraps the durable snapshot file with an advisory
// inter-process lock, so peers sharing one storage_dir (as tests do)
// cannot interleave writes.
type snapshotStore struct {
	path string
	log  *log.Logger
}

func newSnapshotStore(storageDir string) *snapshotStore {
	if storageDir == "" {
		storageDir = "storage"
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		log.Warn("could not create storage dir", "dir", storageDir, "err", err)
	}
	return &snapshotStore{path: filepath.Join(storageDir, snapshotFile), log: log.NewContext("component", "snapshot")}
}

// load returns nil, nil when no snapshot file exists yet.
func (s *snapshotStore) load() (*persistentSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap persistentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// save is best-effort: failures are logged and swallowed, never
// propagated, per spec §3/§7.
func (s *snapshotStore) save(snap *persistentSnapshot) {
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		s.log.Warn("failed to acquire snapshot lock", "err", err)
		return
	}
	defer fl.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("failed to marshal snapshot", "err", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn("failed to write snapshot", "err", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("failed to install snapshot", "err", err)
	}
}

// persistLocked rebuilds and writes the snapshot; the caller must
// already hold s.mu (the State's lock, not the file lock).
func (s *State) persistLocked() {
	snap := &persistentSnapshot{
		KnownPeers:      make(map[string]int64, len(s.neighbours)),
		FileCache:       make(map[string][]indexer.FileMeta, len(s.fileCache)),
		CacheTimestamps: make(map[string]int64, len(s.fileCache)),
	}
	for url, n := range s.neighbours {
		snap.KnownPeers[url] = n.lastSeen
	}
	for url, entry := range s.fileCache {
		snap.FileCache[url] = entry.files
		snap.CacheTimestamps[url] = entry.cacheTime
	}
	s.store.save(snap)
}
