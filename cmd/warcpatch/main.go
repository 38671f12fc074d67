// Command warcpatch reconciles the static capture of a page with its dynamic
// capture by transplanting the dynamic page's script tags.
//
// Usage:
//
//	warcpatch patch --dynamic-prefix writes/col/x/record-js-0 --dynamic-warc warcs/col/x_js-0.warc \
//	    --static-prefix writes/col/x/record-nojs-0 --static-warc warcs/col/x_nojs-0.static.warc
//	warcpatch batch --collection col
//	warcpatch initiators --prefix writes/col/x/record-js-0
//	warcpatch resources --collection col --archive x
//	warcpatch jobs --status failed
//	warcpatch serve --addr :8080
//	warcpatch serve --mcp                  # MCP over stdio
//
// Configuration comes from --config (YAML), then WARCPATCH_* variables, which
// may also be set in a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/USC-NSL/IMC-25-Artifact/observability"
	"github.com/USC-NSL/IMC-25-Artifact/warcpatch"
)

type globals struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *warcpatch.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := &globals{}
	root := newRootCmd(g)
	if err := root.ExecuteContext(ctx); err != nil {
		logger := g.logger
		if logger == nil {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		}
		logger.Error("warcpatch: fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "warcpatch",
		Short:         "Patch static page captures with the script tags of their dynamic captures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load()
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to warcpatch.yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: json, text")

	root.AddCommand(
		newPatchCmd(g),
		newBatchCmd(g),
		newInitiatorsCmd(g),
		newResourcesCmd(g),
		newJobsCmd(g),
		newServeCmd(g),
	)
	return root
}

// load resolves the configuration and builds the logger.
func (g *globals) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg := &warcpatch.Config{}
	if g.configPath != "" {
		var err error
		if cfg, err = warcpatch.LoadConfigFile(g.configPath); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	g.cfg, g.logger = cfg, logger
	return nil
}

// service opens the ledger-backed service; the caller closes it.
func (g *globals) service() (*warcpatch.Service, error) {
	svc, err := warcpatch.New(g.cfg, g.logger)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return svc, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
