package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr     string
		stdioMCP bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, or MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := g.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			if stdioMCP {
				srv := mcp.NewServer(&mcp.Implementation{Name: "warcpatch", Version: "1.0.0"}, nil)
				svc.RegisterMCP(srv)
				g.logger.Info("warcpatch: mcp on stdio")
				return srv.Run(ctx, &mcp.StdioTransport{})
			}

			if addr != "" {
				g.cfg.HTTP.Addr = addr
			}
			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.RealIP)
			r.Use(middleware.Recoverer)
			svc.RegisterHTTP(r)

			srv := &http.Server{
				Addr:              g.cfg.HTTP.Addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				g.logger.Info("warcpatch: listening", "addr", srv.Addr, "auth", g.cfg.HTTP.PasswordHash != "")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			g.logger.Info("warcpatch: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errc
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: config http.addr, :8080)")
	cmd.Flags().BoolVar(&stdioMCP, "mcp", false, "serve MCP tools over stdin/stdout instead of HTTP")
	return cmd
}
