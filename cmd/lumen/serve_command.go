package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumen/internal/certs"
	"github.com/zsiec/lumen/internal/inspect"
	"github.com/zsiec/lumen/internal/session"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var useTLS bool
	var open []string
	var hintsURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspect API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			if bind == "" {
				bind = cfg.Inspect.Bind
			}
			if !cmd.Flags().Changed("tls") {
				useTLS = cfg.Inspect.TLS
			}
			log, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			mgr := ctx.newManager(log)
			defer func() {
				if err := mgr.CloseAll(); err != nil {
					log.Warn("closing sessions", "error", err)
				}
			}()

			for _, location := range open {
				sess, err := mgr.Open(cmd.Context(), location, session.OpenOptions{
					HintsURL: hintsURL,
					Source:   ctx.sourceOptions(log),
				})
				if err != nil {
					return fmt.Errorf("open %s: %w", location, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Opened %s as %s\n", location, sess.ID)
			}

			var cert *certs.CertInfo
			if useTLS {
				host, _, _ := net.SplitHostPort(bind)
				cert, err = certs.Generate(certs.DefaultValidity, host)
				if err != nil {
					return fmt.Errorf("generate certificate: %w", err)
				}
				log.Info("certificate generated", "fingerprint", cert.FingerprintHex(), "expires", cert.NotAfter)
			}

			srv, err := inspect.NewServer(inspect.Config{
				Addr:    bind,
				Manager: mgr,
				Cert:    cert,
				Logger:  log,
			})
			if err != nil {
				return err
			}

			log.Info("lumen starting", "version", version, "bind", bind, "tls", useTLS, "sessions", len(open))
			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return srv.Start(gctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to inspect.bind)")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Serve HTTPS with a self-signed certificate")
	cmd.Flags().StringArrayVar(&open, "open", nil, "File or URL to open at startup (repeatable)")
	cmd.Flags().StringVar(&hintsURL, "hints", "", "Metadata hints URL applied to every --open location")
	return cmd
}
