/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config loads and validates flyarray's process configuration.

Configuration comes from three layers, applied in increasing priority:
compiled-in defaults, a TOML config file, and environment variables. The
file is parsed with github.com/BurntSushi/toml; environment variables are
read directly and always win over the file and the compiled-in defaults.

Two fields exist purely for the connection subsystem and predate nothing
else in this package: SendQueueLimits and ReceiveQueueHints are the
sendQueueLimit(mqt) / receiveQueueHint(mqt) configuration inputs from the
connection subsystem, keyed by message queue type name so this package
never has to import internal/network.
*/
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
)

// Environment variable names, checked by LoadFromEnv.
const (
	EnvPort          = "FLYARRAY_PORT"
	EnvBinaryPort    = "FLYARRAY_BINARY_PORT"
	EnvReplPort      = "FLYARRAY_REPLICATION_PORT"
	EnvRole          = "FLYARRAY_ROLE"
	EnvDBPath        = "FLYARRAY_DB_PATH"
	EnvLogLevel      = "FLYARRAY_LOG_LEVEL"
	EnvLogJSON       = "FLYARRAY_LOG_JSON"
	EnvMasterAddr    = "FLYARRAY_MASTER_ADDR"
	EnvAdminPassword = "FLYARRAY_ADMIN_PASSWORD"
)

// Config holds the fully resolved process configuration.
type Config struct {
	Role       string // "standalone", "master", or "slave"
	Port       int    // client protocol port
	BinaryPort int    // binary wire protocol port
	ReplPort   int    // replication control port
	MasterAddr string // required when Role == "slave"
	DBPath     string
	LogLevel   string
	LogJSON    bool

	AdminPassword string

	// SendQueueLimits and ReceiveQueueHints are the per-mqt configuration
	// inputs the connection subsystem consumes: a per-channel
	// cap on locally queued-but-unsent messages, and the initial advertised
	// receive capacity to assume for a peer before any real update
	// arrives. Keyed by message queue type name (e.g. "replication").
	SendQueueLimits   map[string]int
	ReceiveQueueHints map[string]uint64

	// ConfigFile records the path this Config was loaded from, if any.
	ConfigFile string
}

// DefaultConfig returns a configuration with sensible standalone defaults.
func DefaultConfig() *Config {
	return &Config{
		Role:       "standalone",
		Port:       8888,
		BinaryPort: 8889,
		ReplPort:   9999,
		DBPath:     "flyarray.wal",
		LogLevel:   "info",
		LogJSON:    false,
		SendQueueLimits: map[string]int{
			"none": 256,
		},
		ReceiveQueueHints: map[string]uint64{
			"none": 256,
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BinaryPort <= 0 || c.BinaryPort > 65535 {
		return fmt.Errorf("invalid binary_port: %d", c.BinaryPort)
	}
	if c.ReplPort <= 0 || c.ReplPort > 65535 {
		return fmt.Errorf("invalid replication_port: %d", c.ReplPort)
	}
	if c.Port == c.BinaryPort || c.Port == c.ReplPort || c.BinaryPort == c.ReplPort {
		return fmt.Errorf("port conflict: port=%d binary_port=%d replication_port=%d", c.Port, c.BinaryPort, c.ReplPort)
	}
	switch c.Role {
	case "standalone", "master":
	case "slave":
		if c.MasterAddr == "" {
			return fmt.Errorf("role 'slave' requires master_addr to be set")
		}
	default:
		return fmt.Errorf("invalid role: %q", c.Role)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}

// String renders a human-readable summary, used for startup banners.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Role: %s, Port: %d, BinaryPort: %d, ReplPort: %d, DBPath: %s, LogLevel: %s}",
		c.Role, c.Port, c.BinaryPort, c.ReplPort, c.DBPath, c.LogLevel,
	)
}

// ToTOML renders the configuration in the flyarray.conf file format.
func (c *Config) ToTOML() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "role = %q\n", c.Role)
	fmt.Fprintf(&b, "port = %d\n", c.Port)
	fmt.Fprintf(&b, "binary_port = %d\n", c.BinaryPort)
	fmt.Fprintf(&b, "replication_port = %d\n", c.ReplPort)
	if c.MasterAddr != "" {
		fmt.Fprintf(&b, "master_addr = %q\n", c.MasterAddr)
	}
	fmt.Fprintf(&b, "db_path = %q\n", c.DBPath)
	fmt.Fprintf(&b, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %t\n", c.LogJSON)
	return b.String()
}

// SaveToFile writes the configuration to path, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

// fileConfig is the TOML decoding target; only recognized keys are wired
// into Config, matching the subset flyarray.conf actually uses.
type fileConfig struct {
	Role            string `toml:"role"`
	Port            int    `toml:"port"`
	BinaryPort      int    `toml:"binary_port"`
	ReplicationPort int    `toml:"replication_port"`
	MasterAddr      string `toml:"master_addr"`
	DBPath          string `toml:"db_path"`
	LogLevel        string `toml:"log_level"`
	LogJSON         bool   `toml:"log_json"`
}

// Manager owns the current Config and the reload machinery around it.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	onReload []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers a callback invoked after a successful Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// LoadFromFile decodes a TOML config file over top of the current config.
func (m *Manager) LoadFromFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if fc.Role != "" {
		cfg.Role = fc.Role
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.BinaryPort != 0 {
		cfg.BinaryPort = fc.BinaryPort
	}
	if fc.ReplicationPort != 0 {
		cfg.ReplPort = fc.ReplicationPort
	}
	if fc.MasterAddr != "" {
		cfg.MasterAddr = fc.MasterAddr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	cfg.LogJSON = fc.LogJSON
	cfg.ConfigFile = path

	m.cfg = &cfg
	m.path = path
	return nil
}

// LoadFromEnv overlays environment variables onto the current config.
// Malformed integers and booleans are ignored, leaving the prior value.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv(EnvBinaryPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BinaryPort = n
		}
	}
	if v := os.Getenv(EnvReplPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReplPort = n
		}
	}
	if v := os.Getenv(EnvRole); v != "" {
		cfg.Role = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv(EnvMasterAddr); v != "" {
		cfg.MasterAddr = v
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		cfg.AdminPassword = v
	}
	m.cfg = &cfg
}

// Reload re-reads the file this Manager was last loaded from and notifies
// every callback registered with OnReload.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("config: no file to reload from")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}

	m.mu.RLock()
	cfg := m.cfg
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager singleton, creating it on first
// use with compiled-in defaults.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
