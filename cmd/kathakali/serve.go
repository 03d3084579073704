package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/kathakali/internal/app"
	"github.com/ayusman/kathakali/internal/config"
	"github.com/ayusman/kathakali/internal/logging"
	"github.com/ayusman/kathakali/internal/server"
)

type serveOptions struct {
	addr      string
	profile   string
	staticDir string
	mock      bool
	record    bool
	watch     bool
}

func newServeCmd(opts *options) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retargeting pipeline and HTTP server",
		Long: `Open the camera, run detection and retargeting on every frame and serve
the rig state, the camera stream and the profile and session APIs.

Without a MediaPipe service installed the pipeline falls back to the
synthetic preset detector.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, so)
		},
	}

	cmd.Flags().StringVar(&so.addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVarP(&so.profile, "profile", "p", "", "activate this profile by ID or name")
	cmd.Flags().StringVar(&so.staticDir, "static", "", "directory of static web files")
	cmd.Flags().BoolVar(&so.mock, "mock", false, "use the synthetic preset detector")
	cmd.Flags().BoolVar(&so.record, "record", false, "record a session while running")
	cmd.Flags().BoolVar(&so.watch, "watch", true, "reload the guider config when the config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, opts *options, so *serveOptions) error {
	loader, cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if so.addr != "" {
		cfg.Server.Addr = so.addr
	}
	if so.mock {
		cfg.Detector.Mock = true
	}
	if so.record {
		cfg.Pipeline.Record.Enabled = true
	}

	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	a, err := app.New(app.Config{Settings: cfg, Store: st, Logger: log})
	if err != nil {
		return err
	}
	defer a.Close()

	if so.profile != "" {
		p, err := a.ActivateProfile(so.profile)
		if err != nil {
			return fmt.Errorf("activate profile %q: %w", so.profile, err)
		}
		log.Info().Str("profile", p.Name).Msg("profile active")
	}

	if err := a.Start(); err != nil {
		return err
	}

	if so.watch && loader.File() != "" {
		loader.Watch(func(next config.Config, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("config reload rejected")
				return
			}
			if err := a.ReloadSettings(next); err != nil {
				log.Warn().Err(err).Msg("config reload failed")
				return
			}
			log.Info().Str("file", loader.File()).Msg("config reloaded")
		})
	}

	static := so.staticDir
	if static == "" {
		static = findWebDir()
	}
	if static != "" {
		log.Info().Str("dir", static).Msg("serving static files")
	}

	srv := server.New(server.Config{
		StaticDir:         static,
		Store:             st,
		Engine:            a,
		Logger:            log,
		BroadcastInterval: cfg.Server.BroadcastInterval,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := a.Status()
	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("detector", status.Detector).
		Str("rig", status.Rig).
		Msg("starting server")

	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info().Msg("shut down")
	return nil
}

// findWebDir searches "web", "../web", "../../web" and ~/.kathakali/web
// and returns the first directory found.
func findWebDir() string {
	candidates := []string{"web", "../web", "../../web", filepath.Join(config.DataDir(), "web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
