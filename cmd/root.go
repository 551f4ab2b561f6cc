// Package cmd implements CLI commands using the cobra framework, grounded
// in the teacher's cmd/root.go persistent-flags-plus-subcommand layout.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/callscope/callscope/internal/config"
)

var (
	configFile string
	v          = viper.New()
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "callscope",
	Short: "callscope - live/offline VoIP signalling analyzer",
	Long: `callscope ingests packets from a network interface, a capture file, or
an HEP/EEP transport, dissects them through a stacked protocol pipeline
(IP/UDP/TCP/TLS/WS/HEP/SIP/SDP/RTP/RTCP), groups SIP messages into dialogs,
and correlates media streams with the SIP sessions that negotiated them.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"persisted key/value config file path")
	config.BindFlags(rootCmd.PersistentFlags(), v)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &invalidArgsError{err}
	})

	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command. Exit codes follow spec §6: 0 clean,
// 1 fatal initialization error, 2 invalid arguments.
func Execute() int {
	rootCmd.SilenceErrors = true
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if _, invalid := err.(*invalidArgsError); invalid {
		return 2
	}
	return 1
}

// resolveConfig builds the GlobalConfig from bound flags, then layers the
// persisted file (if given) on top, per spec §6's two configuration
// surfaces.
func resolveConfig() (*config.GlobalConfig, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if configFile != "" {
		if err := config.LoadFile(configFile, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
