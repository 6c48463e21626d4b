// Package config loads the service configuration COS's components are
// wired from: raft peers and data directories for the schedule engine,
// queue topics, storage server endpoints, and the ambient logging
// settings. Loaded as a YAML struct rather than flat cobra flags, since a
// production deployment has far more shape (queue list, storage servers)
// than flags alone comfortably carry.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/cos/internal/logx"
)

// Config is the top-level service configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Raft    RaftConfig    `yaml:"raft"`
	Queues  []QueueConfig `yaml:"queues"`
	Storage StorageConfig `yaml:"storage"`
	Agent   AgentConfig   `yaml:"agent"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// LogConfig controls internal/logx.Init.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RaftConfig configures the schedule engine's raft node.
type RaftConfig struct {
	NodeID      string   `yaml:"node_id"`
	BindAddr    string   `yaml:"bind_addr"`
	DataDir     string   `yaml:"data_dir"`
	Bootstrap   bool     `yaml:"bootstrap"`
	JoinPeers   []string `yaml:"join_peers"`
}

// QueueConfig seeds a domain.Queue at startup.
type QueueConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	TopicName   string `yaml:"topic_name"`
	MemoryBytes int64  `yaml:"memory_bytes"`
	CoreNumber  int    `yaml:"core_number"`
	StorageBytes int64 `yaml:"storage_bytes"`
	NodeCount   int    `yaml:"node_count"`
}

// StorageConfig configures the kvstore data directory and known storage
// servers the file move pipeline may upload to.
type StorageConfig struct {
	KVDataDir      string                `yaml:"kv_data_dir"`
	Servers        []StorageServerConfig `yaml:"servers"`
	LocalBrokerDir string                `yaml:"local_broker_dir"`
	MultipartDir   string                `yaml:"multipart_dir"`
	PackageRepoDir string                `yaml:"package_repo_dir"`
}

// StorageServerConfig seeds a domain.StorageServer at startup.
type StorageServerConfig struct {
	ID  string `yaml:"id"`
	Name string `yaml:"name"`
	URL string `yaml:"url"`
}

// AgentConfig configures the agent-facing HTTP API.
type AgentConfig struct {
	ListenAddr           string `yaml:"listen_addr"`
	HeartbeatInterval     string `yaml:"heartbeat_interval"`
	MissedHeartbeatLimit int    `yaml:"missed_heartbeat_limit"`
}

// RealtimeConfig configures the realtime log tail streamer.
type RealtimeConfig struct {
	SessionTTL string `yaml:"session_ttl"`
}

// Default returns a Config with every default applied and nothing loaded
// from disk, for callers that run against an unconfigured (standalone)
// service.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Raft.DataDir == "" {
		cfg.Raft.DataDir = "./data/raft"
	}
	if cfg.Storage.KVDataDir == "" {
		cfg.Storage.KVDataDir = "./data/kv"
	}
	if cfg.Storage.LocalBrokerDir == "" {
		cfg.Storage.LocalBrokerDir = "./data/objects"
	}
	if cfg.Storage.MultipartDir == "" {
		cfg.Storage.MultipartDir = "./data/multipart"
	}
	if cfg.Storage.PackageRepoDir == "" {
		cfg.Storage.PackageRepoDir = "./data/packages"
	}
	if cfg.Agent.ListenAddr == "" {
		cfg.Agent.ListenAddr = ":8090"
	}
	if cfg.Agent.HeartbeatInterval == "" {
		cfg.Agent.HeartbeatInterval = "30s"
	}
	if cfg.Agent.MissedHeartbeatLimit == 0 {
		cfg.Agent.MissedHeartbeatLimit = 3
	}
	if cfg.Realtime.SessionTTL == "" {
		cfg.Realtime.SessionTTL = "1h"
	}
}

// LogLevel resolves the configured level into a logx.Level, defaulting to
// InfoLevel for an unrecognised string.
func (c LogConfig) LogLevel() logx.Level {
	switch c.Level {
	case "debug":
		return logx.DebugLevel
	case "warn":
		return logx.WarnLevel
	case "error":
		return logx.ErrorLevel
	default:
		return logx.InfoLevel
	}
}
