package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	rtsp "github.com/cesbo/go-gsrtsp"
)

type flags struct {
	configFile string
	host       string
	generation int
	hevc       bool
	logLevel   string
}

func (f *flags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "config file (yaml or toml)")
	cmd.Flags().StringVar(&f.host, "host", "", "streaming host address")
	cmd.Flags().IntVar(&f.generation, "generation", 0, "server major version")
	cmd.Flags().BoolVar(&f.hevc, "hevc", false, "declare HEVC decoding support")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
}

// resolve loads the config file, if any, and applies the flags set on cmd.
func (f *flags) resolve(cmd *cobra.Command) (Config, error) {
	cfg := defaultConfig()

	if f.configFile != "" {
		var err error
		if cfg, err = loadConfig(f.configFile); err != nil {
			return Config{}, err
		}
	}

	if cmd.Flags().Changed("host") {
		cfg.Host = f.host
	}
	if cmd.Flags().Changed("generation") {
		cfg.ServerMajorVersion = f.generation
	}
	if cmd.Flags().Changed("hevc") {
		cfg.SupportsHEVC = f.hevc
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func newHandshakeCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Run the RTSP handshake against a streaming host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}

			level, _ := parseLevel(cfg.Logging.Level)
			logger := newLogger(cmd.ErrOrStderr(), level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := cfg.client(logger).Handshake(ctx)
			if err != nil {
				if code, ok := rtsp.StatusCode(err); ok {
					return fmt.Errorf("host rejected the handshake with status %d: %w", code, err)
				}
				return fmt.Errorf("handshake failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "session=%s codec=%s\n", result.SessionID, result.Codec)
			return nil
		},
	}

	f.register(cmd)

	return cmd
}

func newConfigCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			defer encoder.Close()

			return encoder.Encode(cfg)
		},
	}

	f.register(cmd)

	return cmd
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gsrtsp",
		Short:         "GameStream RTSP handshake client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newHandshakeCmd(), newConfigCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
