package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/callscope/callscope/internal/log"
)

// LoadFile reads the persisted configuration format from spec §6: one
// directive per line, blank lines and lines starting with '#' ignored.
// This grammar is not viper-representable (it mixes scalar `key value`
// settings with repeatable positional directives like `alias` and
// `externip`), so it is parsed by a small dedicated reader in the style of
// original_source/src/setting.c's line-oriented config read loop, applied
// directly onto an existing GlobalConfig (typically one already populated
// from CLI flags, so file directives layer on top rather than replace).
//
// Per spec §7's ConfigError policy: an unrecognised option or malformed
// value is logged at warn level and the line skipped, never fatal; only a missing
// *required* option is fatal, and this loader never requires one.
func LoadFile(path string, cfg *GlobalConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return loadReader(f, cfg)
}

func loadReader(r io.Reader, cfg *GlobalConfig) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			log.Get().WithField("line", lineNo).Warn("config: malformed line skipped")
			continue // ConfigError: skip malformed line, not fatal
		}
		directive, rest := fields[0], fields[1:]
		applyDirective(cfg, directive, rest)
	}
	return scanner.Err()
}

func applyDirective(cfg *GlobalConfig, directive string, args []string) {
	switch {
	case directive == "alias":
		if len(args) >= 2 {
			cfg.Aliases[args[0]] = strings.Join(args[1:], " ")
		}
	case directive == "externip":
		if len(args) >= 2 {
			cfg.ExternIPs[args[0]] = args[1]
			cfg.ExternIPs[args[1]] = args[0]
		}
	case directive == "capture.limit":
		if n, err := strconv.ParseUint(args[0], 10, 32); err == nil {
			cfg.DialogCap = uint32(n)
		} else {
			log.Get().WithField("directive", directive).WithError(err).Warn("config: malformed value, line skipped")
		}
	case directive == "capture.storage":
		if n, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			cfg.MemoryLimit = n
		} else {
			log.Get().WithField("directive", directive).WithError(err).Warn("config: malformed value, line skipped")
		}
	case directive == "capture.device":
		cfg.Device = args[0]
	case directive == "capture.rtp":
		cfg.StoreRTP = isTruthy(args[0])
	case directive == "capture.rotate":
		cfg.RotateOnCap = isTruthy(args[0])
	case directive == "storage.filter.methods":
		cfg.MethodFilter = args[0]
	case directive == "storage.savepath":
		cfg.SavePath = args[0]
	case directive == "hep.send.address":
		cfg.HEPForward = args[0]
	case directive == "hep.listen.address":
		cfg.HEPListen = args[0]
	case directive == "hep.auth_key":
		cfg.HEPAuthKey = args[0]
	case directive == "storage.sort.attribute":
		cfg.SortAttribute = args[0]
	case directive == "storage.sort.ascending":
		cfg.SortAscending = isTruthy(args[0])
	case strings.HasPrefix(directive, "attribute."):
		applyAttributeDirective(cfg, directive, args)
	default:
		// Unrecognised directive: spec §7 ConfigError, skip with warning.
		log.Get().WithField("directive", directive).Warn("config: unrecognised directive, line skipped")
	}
}

// applyAttributeDirective handles `attribute.<name>.{title,desc,regexp,length}`
// from spec §6, building up the named override incrementally across however
// many directive lines mention it.
func applyAttributeDirective(cfg *GlobalConfig, directive string, args []string) {
	rest := strings.TrimPrefix(directive, "attribute.")
	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		log.Get().WithField("directive", directive).Warn("config: unrecognised directive, line skipped")
		return
	}
	name, field := rest[:dot], rest[dot+1:]
	override := cfg.Attributes[name]
	value := strings.Join(args, " ")
	switch field {
	case "title":
		override.Title = value
	case "desc":
		override.Desc = value
	case "regexp":
		if re, err := regexp.Compile(value); err == nil {
			override.Regexp = re
		} else {
			log.Get().WithField("directive", directive).WithError(err).Warn("config: malformed value, line skipped")
		}
	case "length":
		if n, err := strconv.Atoi(value); err == nil {
			override.Length = n
		} else {
			log.Get().WithField("directive", directive).WithError(err).Warn("config: malformed value, line skipped")
		}
	default:
		log.Get().WithField("directive", directive).Warn("config: unrecognised directive, line skipped")
	}
	cfg.Attributes[name] = override
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
