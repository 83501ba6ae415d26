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

// Package peerconfig loads the peer's JSON startup configuration.
package peerconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// RateLimit holds the two per-client sliding-window ceilings.
type RateLimit struct {
	RequestsPerMinute  int `json:"requests_per_minute"`
	DownloadsPerMinute int `json:"downloads_per_minute"`
}

// Config is the fully-resolved startup configuration for one peer.
type Config struct {
	Name          string    `json:"name"`
	IP            string    `json:"ip"`
	RestPort      int       `json:"rest_port"`
	GRPCPort      int       `json:"grpc_port"`
	SharedDir     string    `json:"shared_dir"`
	SelfURL       string    `json:"self_url"`
	FriendPrimary string    `json:"friend_primary"`
	FriendSecond  string    `json:"friend_secondary"`
	MetricsPort   int       `json:"metrics_port"`
	HealthCheck   int       `json:"health_check_interval"`
	SearchTTL     int       `json:"search_ttl"`
	MaxFanout     int       `json:"max_fanout"`
	RateLimit     RateLimit `json:"rate_limit"`
	StreamScheme  string    `json:"stream_scheme"`
	StorageDir    string    `json:"storage_dir"`
}

// raw mirrors the on-disk JSON document before defaults are applied.
type raw struct {
	Name          string     `json:"name"`
	IP            *string    `json:"ip"`
	RestPort      *int       `json:"rest_port"`
	GRPCPort      *int       `json:"grpc_port"`
	SharedDir     *string    `json:"shared_dir"`
	SelfURL       *string    `json:"self_url"`
	FriendPrimary string     `json:"friend_primary"`
	FriendSecond  string     `json:"friend_secondary"`
	MetricsPort   *int       `json:"metrics_port"`
	HealthCheck   *int       `json:"health_check_interval"`
	SearchTTL     *int       `json:"search_ttl"`
	MaxFanout     *int       `json:"max_fanout"`
	RateLimit     *RateLimit `json:"rate_limit"`
	StreamScheme  string     `json:"stream_scheme"`
	StorageDir    string     `json:"storage_dir"`
}

const envVar = "PEER_CONFIG"

const defaultPath = "configs/peer1.json"

// Load reads and validates the JSON configuration document at path.
// If path is empty, PEER_CONFIG is consulted, falling back to
// configs/peer1.json. Missing required keys are a fatal error — the
// caller is expected to abort startup on a non-nil error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envVar)
	}
	if path == "" {
		path = defaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if r.Name == "" {
		return nil, fmt.Errorf("config %q: missing required key %q", path, "name")
	}
	if r.RestPort == nil {
		return nil, fmt.Errorf("config %q: missing required key %q", path, "rest_port")
	}
	if r.GRPCPort == nil {
		return nil, fmt.Errorf("config %q: missing required key %q", path, "grpc_port")
	}
	if r.SharedDir == nil {
		return nil, fmt.Errorf("config %q: missing required key %q", path, "shared_dir")
	}
	if r.SelfURL == nil {
		return nil, fmt.Errorf("config %q: missing required key %q", path, "self_url")
	}

	cfg := &Config{
		Name:          r.Name,
		IP:            "0.0.0.0",
		RestPort:      *r.RestPort,
		GRPCPort:      *r.GRPCPort,
		SharedDir:     *r.SharedDir,
		SelfURL:       *r.SelfURL,
		FriendPrimary: r.FriendPrimary,
		FriendSecond:  r.FriendSecond,
		MetricsPort:   9000,
		HealthCheck:   30,
		SearchTTL:     3,
		MaxFanout:     3,
		RateLimit:     RateLimit{RequestsPerMinute: 100, DownloadsPerMinute: 10},
		StreamScheme:  "ws",
		StorageDir:    "storage",
	}
	if r.IP != nil {
		cfg.IP = *r.IP
	}
	if r.MetricsPort != nil {
		cfg.MetricsPort = *r.MetricsPort
	}
	if r.HealthCheck != nil {
		cfg.HealthCheck = *r.HealthCheck
	}
	if r.SearchTTL != nil {
		cfg.SearchTTL = *r.SearchTTL
	}
	if r.MaxFanout != nil {
		cfg.MaxFanout = *r.MaxFanout
	}
	if r.RateLimit != nil {
		if r.RateLimit.RequestsPerMinute > 0 {
			cfg.RateLimit.RequestsPerMinute = r.RateLimit.RequestsPerMinute
		}
		if r.RateLimit.DownloadsPerMinute > 0 {
			cfg.RateLimit.DownloadsPerMinute = r.RateLimit.DownloadsPerMinute
		}
	}
	if r.StreamScheme != "" {
		cfg.StreamScheme = r.StreamScheme
	}
	if r.StorageDir != "" {
		cfg.StorageDir = r.StorageDir
	}
	return cfg, nil
}
