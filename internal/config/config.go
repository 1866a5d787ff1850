// Package config decodes the static YAML configuration every cmd/
// entry point starts from, and layers command-line flags on top of it,
// generalizing the teacher's deviceid.go (YAML-decoded device table)
// and appserver.go / cmd/direwolf/main.go (pflag overriding a decoded
// config struct) onto this module's MAC/Queue/Driver/Portal topology.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/goby-acomms/acomms/internal/mac"
	"github.com/goby-acomms/acomms/internal/transmission"
)

// LoggingConfig configures internal/logx.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SlotConfig is the YAML rendering of one mac.Slot.
type SlotConfig struct {
	Src            transmission.ID   `yaml:"src"`
	Dest           transmission.ID   `yaml:"dest"`
	Rate           int               `yaml:"rate"`
	Kind           transmission.Kind `yaml:"kind"`
	Seconds        float64           `yaml:"seconds"`
	AlwaysInitiate bool              `yaml:"always_initiate"`
}

// MACConfig is the YAML rendering of mac.Config.
type MACConfig struct {
	Type               string       `yaml:"type"` // "polled" | "fixed_decentralized"
	Slots              []SlotConfig `yaml:"slots"`
	Reference          string       `yaml:"reference"` // "start_of_day" | "fixed"
	StartCycleInMiddle bool         `yaml:"start_cycle_in_middle"`
	AllowedSkewSeconds float64      `yaml:"allowed_skew_seconds"`
}

// ToMACConfig converts the YAML form to mac.Config for a node whose own
// id is modemID.
func (c MACConfig) ToMACConfig(modemID transmission.ID) mac.Config {
	cfg := mac.Config{
		ModemID:            modemID,
		StartCycleInMiddle: c.StartCycleInMiddle,
	}
	if c.Type == "polled" {
		cfg.Type = mac.Polled
	} else {
		cfg.Type = mac.FixedDecentralized
	}
	if c.Reference == "fixed" {
		cfg.Reference = mac.ReferenceFixed
	} else {
		cfg.Reference = mac.ReferenceStartOfDay
	}
	if c.AllowedSkewSeconds > 0 {
		cfg.AllowedSkew = time.Duration(c.AllowedSkewSeconds * float64(time.Second))
	}
	for _, s := range c.Slots {
		cfg.Slots = append(cfg.Slots, mac.Slot{
			Src: s.Src, Dest: s.Dest, Rate: s.Rate, Kind: s.Kind,
			Seconds: s.Seconds, AlwaysInitiate: s.AlwaysInitiate,
		})
	}
	return cfg
}

// QueueConfig is the YAML rendering of one queue.QueueDef's Config half.
type QueueConfig struct {
	Name            string  `yaml:"name"`
	MaxQueue        int     `yaml:"max_queue"`
	Ack             bool    `yaml:"ack"`
	BlackoutSeconds float64 `yaml:"blackout_seconds"`
	TTLSeconds      float64 `yaml:"ttl_seconds"`
	ValueBase       float64 `yaml:"value_base"`
	NewestFirst     bool    `yaml:"newest_first"`
}

// DriverConfig is the YAML rendering of driver.Config plus every
// concrete driver's own extra fields, decoded loosely: unused fields for
// the configured Type are simply ignored, matching the teacher's own
// permissive YAML device table.
type DriverConfig struct {
	ModemID         transmission.ID `yaml:"modem_id"`
	Type            string          `yaml:"type"`
	BackoffSeconds  float64         `yaml:"backoff_seconds"`
	RawLogTimestamp string          `yaml:"raw_log_timestamp"`

	Device         string  `yaml:"device"`
	BaudRate       int     `yaml:"baud_rate"`
	DTRHangup      bool    `yaml:"dtr_hangup"`
	LocalAddress   string  `yaml:"local_address"`
	RemoteAddress  string  `yaml:"remote_address"`
	MulticastGroup string  `yaml:"multicast_group"`
	MaxFrameBytes  uint32  `yaml:"max_frame_bytes"`
	QueryInterval  float64 `yaml:"query_interval_seconds"`
	ResetInterval  float64 `yaml:"reset_interval_seconds"`
	ServerAddress  string  `yaml:"server_address"`

	RUDICSListenAddress string `yaml:"rudics_listen_address"`
	ClientID            uint32 `yaml:"client_id"`
	DirectIPListenPort  int    `yaml:"direct_ip_listen_port"`
	DirectIPGatewayHost string `yaml:"direct_ip_gateway_host"`
	RockBLOCKListenAddr string `yaml:"rockblock_listen_address"`
	RockBLOCKJWTSecret  string `yaml:"rockblock_jwt_secret"`
	RockBLOCKServerURL  string `yaml:"rockblock_server_url"`
	RockBLOCKUsername   string `yaml:"rockblock_username"`
	RockBLOCKPassword   string `yaml:"rockblock_password"`
	IMEI                string `yaml:"imei"`
}

// DiscoveryConfig controls internal/discovery advertisement.
type DiscoveryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Port        int    `yaml:"port"`
}

// MetricsConfig controls internal/metrics' HTTP listener.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// Config is the top-level YAML document every cmd/ entry point loads.
type Config struct {
	ModemID   transmission.ID `yaml:"modem_id"`
	Logging   LoggingConfig   `yaml:"logging"`
	MAC       MACConfig       `yaml:"mac"`
	Queues    []QueueConfig   `yaml:"queues"`
	Drivers   []DriverConfig  `yaml:"drivers"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load decodes path as YAML into a Config.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Flags binds the command-line overrides every daemon accepts on top of
// the YAML document, matching cmd/direwolf/main.go's pattern of pflag
// values overriding whatever config.go already decoded.
type Flags struct {
	ConfigPath string
	ModemID    int32
	LogLevel   string
	MetricsAddr string
}

// RegisterFlags installs the shared flag set onto fs (normally
// pflag.CommandLine), letting each cmd/ binary add its own extra flags
// before calling pflag.Parse.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "config.yaml", "path to the YAML configuration file")
	fs.Int32Var(&f.ModemID, "modem-id", 0, "override modem_id from the config file (0 = use config value)")
	fs.StringVar(&f.LogLevel, "log-level", "", "override logging.level from the config file")
	fs.StringVar(&f.MetricsAddr, "metrics-listen", "", "override metrics.listen_address from the config file")
	return f
}

// Apply layers f's non-zero-valued fields on top of cfg, mirroring
// cmd/direwolf/main.go's "flag wins over file" precedence.
func (f *Flags) Apply(cfg Config) Config {
	if f.ModemID != 0 {
		cfg.ModemID = transmission.ID(f.ModemID)
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.ListenAddress = f.MetricsAddr
	}
	return cfg
}
