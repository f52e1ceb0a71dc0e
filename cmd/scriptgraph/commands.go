/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptgraph/internal/backend"
	"scriptgraph/internal/config"
	"scriptgraph/internal/crash"
	applog "scriptgraph/internal/log"
	"scriptgraph/internal/render"
	"scriptgraph/internal/report"
	"scriptgraph/internal/storage"
	"scriptgraph/internal/version"
	"scriptgraph/internal/watch"
)

// flags holds the command-line overrides shared by all subcommands.
type flags struct {
	configPath string
	dir        string
	interval   int
	wrap       int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "scriptgraph",
		Short: "Compile branching-dialogue scripts into graphs",
		Long: `scriptgraph watches a directory of dialogue scripts, compiles each one
into a graph of nodes and writes JSON, DOT and PNG outputs next to it,
plus a master JSON that aggregates every script.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, f, args, stdout)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default is the per-user config path)")
	pf.StringVarP(&f.dir, "dir", "d", "", "directory of scripts to compile")
	pf.IntVarP(&f.interval, "interval", "i", 0, "seconds between scans")
	pf.IntVarP(&f.wrap, "wrap", "w", 0, "wrap length for diagram labels")

	watchCmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Rebuild scripts whenever they change (default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, f, args, stdout)
		},
	}
	buildCmd := &cobra.Command{
		Use:   "build [dir]",
		Short: "Compile every script once and exit non-zero on failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, f, args, stdout)
		},
	}
	var historyFile string
	var historyLimit int
	historyCmd := &cobra.Command{
		Use:   "history [dir]",
		Short: "Show recorded builds from the local index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, f, args, historyFile, historyLimit, stdout)
		},
	}
	historyCmd.Flags().StringVar(&historyFile, "file", "", "only show builds of this script (path relative to dir)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(stdout, "scriptgraph", version.String())
			return err
		},
	}

	root.AddCommand(watchCmd, buildCmd, historyCmd, versionCmd)
	return root
}

// loadConfig reads the config file and layers the command-line flags on top.
func loadConfig(cmd *cobra.Command, f *flags, args []string) (config.Config, string, error) {
	cfg, password, err := config.Load(f.configPath)
	if err != nil {
		return cfg, "", err
	}
	if cmd.Flags().Changed("dir") {
		cfg.Watch.Dir = f.dir
	}
	if len(args) == 1 {
		cfg.Watch.Dir = args[0]
	}
	if cmd.Flags().Changed("interval") {
		cfg.Watch.IntervalSeconds = f.interval
	}
	if cmd.Flags().Changed("wrap") {
		cfg.Watch.Wrap = f.wrap
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, "", err
	}
	return cfg, password, nil
}

func initLogging(cfg config.Config, stderr io.Writer) {
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Console:   stderr,
	})
}

// session holds the driver and the resources it was wired with.
type session struct {
	cfg     config.Config
	driver  *watch.Driver
	metrics *watch.Metrics
	index   *storage.Index
	pub     *backend.Publisher
}

func (s *session) Close() {
	l := applog.WithComponent("cli")
	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			l.Warn("close backend", slog.Any("err", err))
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			l.Warn("close index", slog.Any("err", err))
		}
	}
}

func openSession(ctx context.Context, cfg config.Config, password string) (*session, error) {
	l := applog.WithComponent("cli")
	root, err := filepath.Abs(cfg.Watch.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve dir: %w", err)
	}
	s := &session{cfg: cfg, metrics: watch.NewMetrics()}
	if cfg.Index.Enabled {
		idx, err := storage.OpenIndex(root)
		if err != nil {
			// history is optional; keep compiling without it
			l.Warn("index unavailable", slog.Any("err", err))
		} else {
			s.index = idx
		}
	}
	if cfg.Backend.DSN != "" {
		pub, err := backend.Open(ctx, cfg.Backend.DSN, password, cfg.Backend.Timeout())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open backend: %w", err)
		}
		s.pub = pub.WithLogger(applog.WithComponent("backend"))
	}
	opts := watch.Options{
		Root:       root,
		Extensions: cfg.Watch.Extensions,
		Wrap:       cfg.Watch.Wrap,
		Render:     cfg.Watch.Render,
		Graphviz:   render.Graphviz{Bin: cfg.Watch.GraphvizBin},
		PDF:        cfg.Watch.PDF,
		FSNotify:   cfg.Watch.FSNotify,
		CacheSize:  cfg.Cache.Size,
		Index:      s.index,
		Metrics:    s.metrics,
	}
	if s.pub != nil {
		opts.Publisher = s.pub
	}
	d, err := watch.New(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.driver = d
	return s, nil
}

func runWatch(cmd *cobra.Command, f *flags, args []string, stdout io.Writer) error {
	cfg, password, err := loadConfig(cmd, f, args)
	if err != nil {
		return err
	}
	initLogging(cfg, cmd.ErrOrStderr())
	defer crash.Recover(cfg.Watch.Dir)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, password)
	if err != nil {
		return err
	}
	defer s.Close()

	l := applog.WithComponent("cli")
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := watch.ServeMetrics(ctx, cfg.Metrics.Addr, s.metrics); err != nil {
				l.Error("metrics server", slog.Any("err", err))
			}
		}()
	}
	l.Info("watching", slog.String("dir", s.driver.Root()), slog.Duration("interval", cfg.Watch.Interval()))
	return s.driver.Run(ctx, cfg.Watch.Interval(), func(res watch.Result) {
		if err := report.Scan(stdout, res); err != nil {
			l.Warn("write report", slog.Any("err", err))
		}
	})
}

func runBuild(cmd *cobra.Command, f *flags, args []string, stdout io.Writer) error {
	cfg, password, err := loadConfig(cmd, f, args)
	if err != nil {
		return err
	}
	initLogging(cfg, cmd.ErrOrStderr())
	defer crash.Recover(cfg.Watch.Dir)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// a one-shot build never waits for filesystem events
	cfg.Watch.FSNotify = false
	s, err := openSession(ctx, cfg, password)
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	res, err := s.driver.Scan(ctx)
	if err != nil {
		return err
	}
	if err := report.Scan(stdout, res); err != nil {
		return err
	}
	applog.WithComponent("cli").Debug("build finished", slog.Duration("took", time.Since(start)))
	if code := report.ExitCode(res); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func runHistory(cmd *cobra.Command, f *flags, args []string, file string, limit int, stdout io.Writer) error {
	cfg, _, err := loadConfig(cmd, f, args)
	if err != nil {
		return err
	}
	initLogging(cfg, cmd.ErrOrStderr())
	root, err := filepath.Abs(cfg.Watch.Dir)
	if err != nil {
		return err
	}
	idx, err := storage.OpenIndex(root)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = idx.Close() }()
	entries, err := idx.History(cmd.Context(), filepath.ToSlash(file), limit)
	if err != nil {
		return err
	}
	return report.History(stdout, entries)
}
