package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/internal/capturesource"
	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/engine"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/log"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/storage"
)

// invalidArgsError marks an error as a spec §6 "invalid arguments" failure
// (exit code 2), distinct from a fatal initialization error (exit code 1).
type invalidArgsError struct{ error }

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and analyze SIP/RTP traffic until interrupted",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	source, entry, err := openSource(cfg)
	if err != nil {
		return err
	}

	matchOpts, err := filter.BuildMatchOpts(cfg.MatchExpr, cfg.InviteOnly)
	if err != nil {
		return &invalidArgsError{fmt.Errorf("storage: %w", err)}
	}

	store := storage.New(matchOpts, storage.CaptureOpts{
		StoreRTP:    cfg.StoreRTP,
		MemoryLimit: cfg.MemoryLimit,
		DialogCap:   cfg.DialogCap,
	}, storage.SortOpts{})

	eng, err := engine.New(source, entry, store, engine.Options{
		KeyFilePath: cfg.KeyFile,
		HEPAuthKey:  cfg.HEPAuthKey,
		HEPForward:  cfg.HEPForward,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Get().Info("callscope: starting capture")
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	stats := store.Stats()
	log.Get().WithField("total_calls", stats.Total).Info("callscope: capture finished")
	logCallSummary(cfg, store)

	if cfg.SavePath != "" {
		if err := saveAll(cfg.SavePath, store, eng); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	return nil
}

// logCallSummary builds the attribute Registry the way an external
// read-API consumer (TUI, exporter — both out of scope per spec §1) would:
// start from the built-in table, layer the persisted `attribute.<name>.*`
// overrides and `externip`/`alias` tables on top, sort the snapshot per
// storage.SortOpts, and log one line per call's index/state/method/duration.
// This is the only in-tree consumer of filter.Registry; it exists so the
// attribute/override/sort machinery is exercised end to end even though the
// real consumer (the TUI) is an external collaborator.
func logCallSummary(cfg *config.GlobalConfig, store *storage.Storage) {
	registry := filter.NewRegistry()
	registry.SetExternIPs(cfg.ExternIPs)
	registry.SetAliases(cfg.Aliases)
	filter.ApplyOverrides(registry, cfg.Attributes)

	calls := store.Calls()
	filter.Sort(calls, registry, storage.SortOpts{Attribute: cfg.SortAttribute, Ascending: cfg.SortAscending})

	for _, c := range calls {
		log.Get().WithField("index", registry.Value("index", c)).
			WithField("state", registry.Value("state", c)).
			WithField("method", registry.Value("method", c)).
			WithField("duration", registry.Value("duration", c)).
			Debug("callscope: call summary")
	}
}

// openSource resolves exactly one of {input pcap, live device, HEP listen}
// from cfg into a capturesource.Source, per spec §6's mutually-exclusive
// input-selection flags, and returns the dissector chain entry point that
// source's raw frames must be dissected from.
func openSource(cfg *config.GlobalConfig) (capturesource.Source, proto.ID, error) {
	selected := 0
	if cfg.InputPcap != "" {
		selected++
	}
	if cfg.Device != "" {
		selected++
	}
	if cfg.HEPListen != "" {
		selected++
	}
	if selected == 0 {
		return nil, proto.None, &invalidArgsError{fmt.Errorf("no input selected: set one of --input, --device, --hep-listen")}
	}
	if selected > 1 {
		return nil, proto.None, &invalidArgsError{fmt.Errorf("more than one input selected: --input, --device, --hep-listen are mutually exclusive")}
	}

	switch {
	case cfg.InputPcap != "":
		src, err := capturesource.OpenFile(cfg.InputPcap)
		if err != nil {
			return nil, proto.None, err
		}
		return src, proto.IP, nil
	case cfg.Device != "":
		src, err := capturesource.OpenLiveDevice(capturesource.LiveDeviceOpts{
			Device:    cfg.Device,
			BPFFilter: cfg.BPFFilter,
		})
		if err != nil {
			return nil, proto.None, err
		}
		return src, proto.IP, nil
	default:
		src, err := capturesource.ListenHEP(cfg.HEPListen)
		if err != nil {
			return nil, proto.None, err
		}
		return src, proto.HEP, nil
	}
}
