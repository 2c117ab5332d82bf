package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ttcal/internal/config"
	"ttcal/internal/convert"
	"ttcal/internal/extract"
	appLog "ttcal/internal/log"
	"ttcal/internal/schedule"
	"ttcal/internal/web"
)

var version = "0.1.0"

const defaultConfigPath = "ttcal.yaml"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ttcal",
		Short: "Convert timetable PDFs into iCalendar files",
		Long: `ttcal reads a timetable PDF, classifies each text line by its
horizontal position and assembles the rows into calendar events.

Example:
  ttcal convert plan.pdf --output calendar.ics
  ttcal serve --config ttcal.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Path to config file")

	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// loadConfig reads the config file. When create is false a missing file
// yields the defaults instead of writing one.
func loadConfig(cmd *cobra.Command, create bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if !create {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLogLevel(cfg *config.Config) {
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [source]",
		Short: "Convert a timetable document once",
		Long: `Convert a timetable document (local path or http(s) URL) into an
iCalendar file. The source argument overrides the configured source.

Example:
  ttcal convert plan.pdf
  ttcal convert https://uni.example/plan.pdf --compact --output ws24.ics
  ttcal convert plan.pdf --dump-lines > plan.lines`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				cfg.Source = args[0]
			}
			if v, _ := cmd.Flags().GetString("output"); v != "" {
				cfg.Output = v
			}
			if v, _ := cmd.Flags().GetString("extractor"); v != "" {
				cfg.Extractor = v
			}
			if v, _ := cmd.Flags().GetString("timezone"); v != "" {
				cfg.Timezone = v
			}
			if cmd.Flags().Changed("compact") {
				cfg.CompactWeekly, _ = cmd.Flags().GetBool("compact")
			}
			dumpLines, _ := cmd.Flags().GetBool("dump-lines")

			cfg.Normalize()
			applyLogLevel(cfg)

			pipeline, err := convert.NewPipeline(cfg, convert.Options{})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if dumpLines {
				lines, err := pipeline.Lines(ctx)
				if err != nil {
					return err
				}
				return extract.WriteLines(cmd.OutOrStdout(), lines)
			}

			res, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d events to %s\n", len(res.Events), res.Output)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output calendar file (overrides config)")
	cmd.Flags().String("extractor", "", "PDF backend: "+fmt.Sprint(extract.Backends()))
	cmd.Flags().String("timezone", "", "IANA timezone of the timetable (overrides config)")
	cmd.Flags().Bool("compact", false, "Fold weekly repeats into recurring events")
	cmd.Flags().Bool("dump-lines", false, "Print the tagged lines instead of converting")

	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Convert on a schedule and publish the calendar over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("listen"); v != "" {
				cfg.Serve.Listen = v
			}
			applyLogLevel(cfg)

			appLog.Info("effective config",
				"source", cfg.Source,
				"output", cfg.Output,
				"timezone", cfg.Timezone,
				"extractor", cfg.Extractor,
				"compact_weekly", cfg.CompactWeekly,
				"listen", cfg.Serve.Listen,
				"refresh", cfg.Serve.Refresh,
			)

			pipeline, err := convert.NewPipeline(cfg, convert.Options{})
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			srv := web.NewServer(cfg, appLog.Default())
			if err := srv.Warm(); err != nil {
				appLog.Error("failed to read existing calendar", err, "path", cfg.Output)
			}

			sched, err := schedule.New(cfg.Serve.Refresh, loc, func(ctx context.Context) error {
				res, err := pipeline.RunIfChanged(ctx)
				srv.Update(res, err)
				return err
			}, appLog.Default())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sched.Run(ctx) })
			g.Go(func() error { return srv.Serve(ctx) })
			err = g.Wait()
			appLog.Info("ttcal exiting")
			return err
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ttcal %s\n", version)
		},
	}
}
