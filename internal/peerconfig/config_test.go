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

package peerconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.json")
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"name":       "peer1",
		"rest_port":  8001,
		"grpc_port":  9001,
		"shared_dir": "data/peer1",
		"self_url":   "http://localhost:8001",
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "peer1", cfg.Name)
	assert.Equal(t, "0.0.0.0", cfg.IP)
	assert.Equal(t, 9000, cfg.MetricsPort)
	assert.Equal(t, 30, cfg.HealthCheck)
	assert.Equal(t, 3, cfg.SearchTTL)
	assert.Equal(t, 3, cfg.MaxFanout)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10, cfg.RateLimit.DownloadsPerMinute)
	assert.Equal(t, "ws", cfg.StreamScheme)
	assert.Equal(t, "storage", cfg.StorageDir)
}

func TestLoadOverridesDefaultsWhenPresent(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"name":       "peer2",
		"ip":         "127.0.0.1",
		"rest_port":  8002,
		"grpc_port":  9002,
		"shared_dir": "data/peer2",
		"self_url":   "http://localhost:8002",
		"max_fanout": 7,
		"rate_limit": map[string]any{"requests_per_minute": 50, "downloads_per_minute": 2},
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.IP)
	assert.Equal(t, 7, cfg.MaxFanout)
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 2, cfg.RateLimit.DownloadsPerMinute)
}

func TestLoadMissingRequiredKeyIsFatal(t *testing.T) {
	for key, doc := range map[string]map[string]any{
		"name":       {"rest_port": 1, "grpc_port": 2, "shared_dir": "d", "self_url": "u"},
		"rest_port":  {"name": "n", "grpc_port": 2, "shared_dir": "d", "self_url": "u"},
		"grpc_port":  {"name": "n", "rest_port": 1, "shared_dir": "d", "self_url": "u"},
		"shared_dir": {"name": "n", "rest_port": 1, "grpc_port": 2, "self_url": "u"},
		"self_url":   {"name": "n", "rest_port": 1, "grpc_port": 2, "shared_dir": "d"},
	} {
		path := writeConfig(t, doc)
		_, err := Load(path)
		assert.Error(t, err, "expected error for missing %s", key)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
