// Command kathakali retargets face and pose keypoints from a camera onto an
// avatar rig and serves the result over HTTP.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayusman/kathakali/internal/config"
	"github.com/ayusman/kathakali/internal/store"
)

// Version information (set at build time)
var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	dbPath     string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "kathakali",
		Short: "Kathakali - face and body motion retargeting for avatar rigs",
		Long: `Kathakali turns camera keypoints into bone rotations and morph weights
for an avatar rig.

It serves the live rig over HTTP and a websocket, records sessions and
keeps calibration profiles in a local database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./kathakali.yaml or ~/.kathakali/kathakali.yaml)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides store.path)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newServeCmd(opts),
		newProfilesCmd(opts),
		newSessionsCmd(opts),
		newDBCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// loadConfig loads the config file and applies the persistent flags.
func (o *options) loadConfig() (*config.Loader, config.Config, error) {
	loader := config.NewLoader(o.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, cfg, err
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	return loader, cfg, nil
}

// openStore opens the configured database, creating its directory.
func (o *options) openStore() (*store.Store, error) {
	_, cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg.Store.Path)
}

func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.New(path)
}
