package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers the §6 CLI flags on fs and binds each to v under the
// same mapstructure key GlobalConfig expects, following the teacher's
// cmd/root.go pattern of PersistentFlags + viper.BindPFlag rather than
// hand-rolled flag parsing.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("device", "", "live capture device name")
	fs.String("input", "", "input pcap file path")
	fs.String("hep-listen", "", "HEP3 listen address (ip:port)")
	fs.String("bpf-filter", "", "BPF capture filter expression")
	fs.Bool("no-interface", false, "run headless, no TUI")
	fs.String("save", "", "save-to-pcap output path")
	fs.String("hep-forward", "", "HEP3 forward address (ip:port)")
	fs.String("keyfile", "", "PEM RSA private key file for TLS decryption")
	fs.Bool("rtp", false, "store RTP payloads in memory")
	fs.Uint32("dialog-cap", 0, "maximum number of concurrently tracked calls (0 = unlimited)")
	fs.Int64("memory-limit", 0, "soft memory cap in bytes (0 = unlimited)")
	fs.String("match-expression", "", "regex applied to SIP payload at ingest")
	fs.Bool("invite-only", false, "only track calls that contain an INVITE")
	fs.String("hep-auth-key", "", "shared secret compared against inbound/outbound HEP3 auth-key chunks")
	fs.String("sort-by", "", "attribute name to sort the post-capture call summary by")
	fs.Bool("sort-ascending", true, "sort the post-capture call summary ascending")

	bind := map[string]string{
		"device":           "capture.device",
		"input":            "capture.input",
		"hep-listen":       "hep.listen.address",
		"bpf-filter":       "capture.bpf",
		"no-interface":     "capture.no_interface",
		"save":             "storage.savepath",
		"hep-forward":      "hep.send.address",
		"keyfile":          "capture.keyfile",
		"rtp":              "capture.rtp",
		"dialog-cap":       "capture.limit",
		"memory-limit":     "capture.storage",
		"match-expression": "storage.filter.match",
		"invite-only":      "storage.filter.invite_only",
		"hep-auth-key":     "hep.auth_key",
		"sort-by":          "storage.sort.attribute",
		"sort-ascending":   "storage.sort.ascending",
	}
	for flag, key := range bind {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// FromViper unmarshals v into a fresh GlobalConfig, starting from Default()
// so unset keys keep their baseline rather than Go zero values.
func FromViper(v *viper.Viper) (*GlobalConfig, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
