package config

import (
	"strings"
	"testing"
)

func TestLoadReaderParsesDirectives(t *testing.T) {
	body := `
# a comment line is ignored

alias 10.0.0.1 pbx-core
externip 10.0.0.1 203.0.113.5
capture.limit 500
capture.storage 1048576
capture.rtp on
storage.filter.methods INVITE|BYE
attribute.custom.title Custom
attribute.custom.regexp (?P<value>foo)
attribute.custom.length 12
`
	cfg := Default()
	if err := loadReader(strings.NewReader(body), cfg); err != nil {
		t.Fatalf("loadReader: %v", err)
	}

	if cfg.Aliases["10.0.0.1"] != "pbx-core" {
		t.Fatalf("alias not recorded: %+v", cfg.Aliases)
	}
	if cfg.ExternIPs["10.0.0.1"] != "203.0.113.5" || cfg.ExternIPs["203.0.113.5"] != "10.0.0.1" {
		t.Fatalf("externip not bidirectional: %+v", cfg.ExternIPs)
	}
	if cfg.DialogCap != 500 {
		t.Fatalf("capture.limit = %d, want 500", cfg.DialogCap)
	}
	if cfg.MemoryLimit != 1048576 {
		t.Fatalf("capture.storage = %d, want 1048576", cfg.MemoryLimit)
	}
	if !cfg.StoreRTP {
		t.Fatal("capture.rtp on should set StoreRTP")
	}
	if cfg.MethodFilter != "INVITE|BYE" {
		t.Fatalf("storage.filter.methods = %q", cfg.MethodFilter)
	}

	override, ok := cfg.Attributes["custom"]
	if !ok {
		t.Fatal("custom attribute override not recorded")
	}
	if override.Title != "Custom" || override.Length != 12 || override.Regexp == nil {
		t.Fatalf("custom attribute override = %+v", override)
	}
}

func TestLoadReaderSkipsMalformedLines(t *testing.T) {
	cfg := Default()
	if err := loadReader(strings.NewReader("capture.device\nunrecognised-directive foo\n"), cfg); err != nil {
		t.Fatalf("loadReader: %v", err)
	}
	if cfg.Device != "" {
		t.Fatalf("a directive with no value should not set Device, got %q", cfg.Device)
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "on", "yes", "TRUE"} {
		if !isTruthy(v) {
			t.Errorf("isTruthy(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"0", "false", "off", "no", ""} {
		if isTruthy(v) {
			t.Errorf("isTruthy(%q) = true, want false", v)
		}
	}
}
