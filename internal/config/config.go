// Package config defines the process's global configuration struct and the
// two loading paths described in the expanded specification's AMBIENT STACK:
// CLI flags bound through cobra/viper, and the persisted key/value file
// format from spec §6, loaded by the line-oriented reader in loader.go.
// Grounded in the teacher's internal/config (mapstructure-tagged struct
// populated by viper) generalized from Otus's agent-role schema down to
// this system's flatter capture-behavior schema.
package config

import "regexp"

// GlobalConfig is the single configuration object threaded through the
// capture task at startup (spec §5's "module-level singleton... modelled as
// an explicit long-lived object" design note).
type GlobalConfig struct {
	// Input selection (spec §6).
	Device       string `mapstructure:"capture.device"`
	InputPcap    string `mapstructure:"capture.input"`
	HEPListen    string `mapstructure:"hep.listen.address"`
	BPFFilter    string `mapstructure:"capture.bpf"`
	NoInterface  bool   `mapstructure:"capture.no_interface"`

	// Output.
	SavePath    string `mapstructure:"storage.savepath"`
	HEPForward  string `mapstructure:"hep.send.address"`
	KeyFile     string `mapstructure:"capture.keyfile"`
	// HEPAuthKey is the shared secret compared against a HEP3 frame's
	// auth-key chunk (spec §4.1/§7); empty accepts any frame, including
	// ones with no auth-key chunk at all. Used for both the listener
	// (inbound) and the forwarder (outbound) sides.
	HEPAuthKey  string `mapstructure:"hep.auth_key"`

	// Behaviour.
	StoreRTP        bool   `mapstructure:"capture.rtp"`
	DialogCap       uint32 `mapstructure:"capture.limit"`
	MemoryLimit   int64  `mapstructure:"capture.storage"`
	MatchExpr       string `mapstructure:"storage.filter.match"`
	InviteOnly      bool   `mapstructure:"storage.filter.invite_only"`
	MethodFilter    string `mapstructure:"storage.filter.methods"`
	RotateOnCap     bool   `mapstructure:"capture.rotate"`
	SortAttribute   string `mapstructure:"storage.sort.attribute"`
	SortAscending   bool   `mapstructure:"storage.sort.ascending"`

	// Display aliasing / NAT twins, populated only from the persisted file
	// (not CLI/viper-bindable — see loader.go).
	Aliases   map[string]string   // ip -> display name
	ExternIPs map[string]string   // ip -> NAT-twin ip, bidirectional once loaded

	// User-defined attribute overrides (attribute.<name>.*), also file-only.
	Attributes map[string]AttributeOverride

	Log LogConfig
}

// AttributeOverride augments or replaces one entry of the built-in
// attribute table (spec §4.9's "Attribute engine").
type AttributeOverride struct {
	Title  string
	Desc   string
	Regexp *regexp.Regexp
	Length int
}

// LogConfig mirrors internal/log.Config's fields for file-based binding.
type LogConfig struct {
	Level      string `mapstructure:"log.level"`
	File       string `mapstructure:"log.file"`
	MaxSizeMB  int    `mapstructure:"log.max_size_mb"`
	MaxBackups int    `mapstructure:"log.max_backups"`
	MaxAgeDays int    `mapstructure:"log.max_age_days"`
}

// Default returns the zero-value-safe baseline, matching the teacher's
// pattern of a constructor that fills in sane defaults before viper
// unmarshals over it.
func Default() *GlobalConfig {
	return &GlobalConfig{
		DialogCap:     0,
		MemoryLimit: 0,
		Aliases:       make(map[string]string),
		ExternIPs:     make(map[string]string),
		Attributes:    make(map[string]AttributeOverride),
		Log:           LogConfig{Level: "info"},
	}
}
