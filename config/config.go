// Package config loads hypermeshd's configuration from a file and the
// environment, adapted from the teacher's pkg/config loader (same
// viper/mapstructure pattern, trimmed to this module's domain: store
// backend selection, peer group tuning, and logging).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hypermesh/peergroup"
	"hypermesh/utils"
)

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Config is the unified configuration for a hypermeshd process.
type Config struct {
	PeerGroup struct {
		ID                            string `mapstructure:"id" json:"id"`
		Endpoint                      string `mapstructure:"endpoint" json:"endpoint"`
		MinPeers                      int    `mapstructure:"min_peers" json:"min_peers"`
		MaxPeers                      int    `mapstructure:"max_peers" json:"max_peers"`
		PeerConnectionTimeoutMS       int    `mapstructure:"peer_connection_timeout_ms" json:"peer_connection_timeout_ms"`
		PeerConnectionAttemptMS       int    `mapstructure:"peer_connection_attempt_interval_ms" json:"peer_connection_attempt_interval_ms"`
		PeerDiscoveryAttemptMS        int    `mapstructure:"peer_discovery_attempt_interval_ms" json:"peer_discovery_attempt_interval_ms"`
		TickIntervalMS                int    `mapstructure:"tick_interval_ms" json:"tick_interval_ms"`
		BootstrapPeers                []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"peer_group" json:"peer_group"`

	Store struct {
		Backend string `mapstructure:"backend" json:"backend"` // "mem" is the only backend shipped with this module
	} `mapstructure:"store" json:"store"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// Default returns the baseline configuration, matching peergroup.DefaultConfig.
func Default() Config {
	var c Config
	d := peergroup.DefaultConfig()
	c.PeerGroup.MinPeers = d.MinPeers
	c.PeerGroup.MaxPeers = d.MaxPeers
	c.PeerGroup.PeerConnectionTimeoutMS = int(d.PeerConnectionTimeout.Milliseconds())
	c.PeerGroup.PeerConnectionAttemptMS = int(d.PeerConnectionAttemptInterval.Milliseconds())
	c.PeerGroup.PeerDiscoveryAttemptMS = int(d.PeerDiscoveryAttemptInterval.Milliseconds())
	c.PeerGroup.TickIntervalMS = int(d.TickInterval.Milliseconds())
	c.Store.Backend = "mem"
	c.HTTP.ListenAddr = fmt.Sprintf(":%d", utils.EnvOrDefaultInt("HYPERMESH_HTTP_PORT", 8085))
	c.Logging.Level = utils.EnvOrDefault("HYPERMESH_LOG_LEVEL", "info")
	return c
}

// Load reads path (if non-empty) and overlays environment variables
// prefixed HYPERMESH_ (e.g. HYPERMESH_PEER_GROUP_ID), matching the
// teacher's viper.AutomaticEnv pattern in pkg/config.Load.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("HYPERMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration using the HYPERMESH_CONFIG environment
// variable as the config file path, matching pkg/config.LoadFromEnv's
// SYNN_ENV pattern: an unset variable means defaults only, no file read.
func LoadFromEnv() (Config, error) {
	return Load(utils.EnvOrDefault("HYPERMESH_CONFIG", ""))
}

// PeerGroupConfig converts the loaded tunables into a peergroup.Config.
func (c Config) PeerGroupConfig() peergroup.Config {
	return peergroup.Config{
		MinPeers:                      c.PeerGroup.MinPeers,
		MaxPeers:                      c.PeerGroup.MaxPeers,
		PeerConnectionTimeout:         msDuration(c.PeerGroup.PeerConnectionTimeoutMS),
		PeerConnectionAttemptInterval: msDuration(c.PeerGroup.PeerConnectionAttemptMS),
		PeerDiscoveryAttemptInterval:  msDuration(c.PeerGroup.PeerDiscoveryAttemptMS),
		TickInterval:                  msDuration(c.PeerGroup.TickIntervalMS),
	}
}
