// Package config loads bearerbox's TOML configuration file, rendering
// Kannel's bespoke "group = NAME" text format as TOML tables and
// array-of-tables, per the spec's configuration section: one [[smsc]]
// table per configured SMSC, plus [core]/[smsbox]/[wapbox] tables.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is wrapped by every config validation failure, mirroring
// original_source/gw/bb_core.c's check_config fatal-error path.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Core holds the [core] table.
type Core struct {
	SmsBoxPort        int    `toml:"smsbox-port"`
	WapBoxPort        int    `toml:"wapbox-port"`
	UDPPort           int    `toml:"udp-port"`
	AdminPort         int    `toml:"admin-port"`
	AdminPassword     string `toml:"admin-password"`
	AdminPasswordHash string `toml:"admin-password-hash"`
	HeartbeatFreq     string `toml:"heartbeat-freq"`
	PidFile           string `toml:"pid-file"`
	LogFile           string `toml:"log-file"`
	LogLevel          string `toml:"log-level"`
}

// HeartbeatFreqDuration parses HeartbeatFreq, defaulting to 30s if unset.
func (c Core) HeartbeatFreqDuration() (time.Duration, error) {
	if c.HeartbeatFreq == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.HeartbeatFreq)
}

// Smsc holds one [[smsc]] table.
type Smsc struct {
	Dialect         string   `toml:"dialect"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	SmscID          string   `toml:"smsc-id"`
	PreferredPrefix string   `toml:"preferred-prefix"`
	AllowedPrefix   string   `toml:"allowed-prefix"`
	DeniedPrefix    string   `toml:"denied-prefix"`
	PreferredSmscID []string `toml:"preferred-smsc-id"`
	DeniedSmscID    []string `toml:"denied-smsc-id"`
}

// BoxPolicy holds the [smsbox] or [wapbox] table.
type BoxPolicy struct {
	AllowIP []string `toml:"allow-ip"`
	DenyIP  []string `toml:"deny-ip"`
}

// Config is the full parsed configuration file.
type Config struct {
	Core   Core    `toml:"core"`
	Smsc   []Smsc  `toml:"smsc"`
	SmsBox *BoxPolicy `toml:"smsbox"`
	WapBox *BoxPolicy `toml:"wapbox"`
}

// Load parses path as TOML and validates it, matching check_config's fatal
// rules: a missing [core] table, or an smsbox-port/wapbox-port configured
// without the corresponding [smsbox]/[wapbox] table, is a fatal error.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}

	if !meta.IsDefined("core") {
		return nil, errors.Wrap(ErrInvalidConfig, "missing [core] table")
	}
	if cfg.Core.SmsBoxPort != 0 && !meta.IsDefined("smsbox") {
		return nil, errors.Wrap(ErrInvalidConfig, "smsbox-port is set but [smsbox] table is missing")
	}
	if cfg.Core.WapBoxPort != 0 && !meta.IsDefined("wapbox") {
		return nil, errors.Wrap(ErrInvalidConfig, "wapbox-port is set but [wapbox] table is missing")
	}
	if _, err := cfg.Core.HeartbeatFreqDuration(); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, "heartbeat-freq: "+err.Error())
	}
	for _, s := range cfg.Smsc {
		if s.SmscID == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "an [[smsc]] entry is missing smsc-id")
		}
	}

	return &cfg, nil
}
