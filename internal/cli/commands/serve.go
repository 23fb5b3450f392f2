package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/fabrique/internal/seedserver"
)

// NewServeCommand creates the serve command
func NewServeCommand(g *Globals) *cobra.Command {
	flags := &storeFlags{}
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the builders over HTTP",
		Long: `Serve every record's builder over HTTP so test suites in any language
can seed the store:

  GET  /records           contracts of every record
  GET  /records/{record}  every stored record
  POST /records/{record}  create one record

When server.secret is set every request needs a bearer token from
"fabrique token".`,
		Example: `  fabrique serve
  fabrique serve --store pgx --dsn postgres://localhost/forge --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			registry, err := g.Registry(cfg, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := g.Logger()
			store, err := openStore(ctx, cfg, *flags, registry, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := []seedserver.Option{seedserver.WithLogger(logger)}
			if cfg.Server.Secret != "" {
				opts = append(opts, seedserver.WithTokens(seedserver.NewTokens(cfg.Server.Secret, 0)))
			}

			if addr == "" {
				addr = cfg.Server.Addr()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %d records from the %s store on %s\n",
				registry.Count(), flags.store, color.CyanString("http://"+addr))

			return seedserver.ListenAndServe(ctx, addr, store.Handler(opts...), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.host:server.port)")
	addStoreFlags(cmd, flags)

	return cmd
}

// NewTokenCommand creates the token command
func NewTokenCommand(g *Globals) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the seed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			if cfg.Server.Secret == "" {
				return fmt.Errorf("server.secret is not set; the seed server accepts requests without a token")
			}

			token, err := seedserver.NewTokens(cfg.Server.Secret, ttl).Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "fabrique", "subject claim of the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
