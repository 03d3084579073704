package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/store"
)

func newProfilesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile"},
		Short:   "Manage calibration profiles",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			profiles, err := st.Profiles().List()
			if err != nil {
				return fmt.Errorf("failed to list profiles: %w", err)
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles. Import one with 'kathakali profiles import <name> <file>'")
				return nil
			}

			active, _ := st.Settings().Get(store.SettingActiveProfile)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tID\tNAME\tUPDATED\tDESCRIPTION")
			for _, p := range profiles {
				mark := ""
				if p.ID == active {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, p.ID, p.Name, p.UpdatedAt.Format("2006-01-02 15:04"), p.Description)
			}
			return tw.Flush()
		},
	}

	var description string
	importCmd := &cobra.Command{
		Use:   "import <name> <file>",
		Short: "Create a profile from a YAML guider config",
		Long: `Create a profile from a YAML guider config. The file only needs the keys
it changes; everything else keeps its default. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			cfg, err := store.ParseProfileConfig(data)
			if err != nil {
				return err
			}

			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p := &store.Profile{ID: uuid.NewString(), Name: args[0], Description: description, Config: cfg}
			if err := st.Profiles().Create(p); err != nil {
				return fmt.Errorf("failed to create profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created profile %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	importCmd.Flags().StringVarP(&description, "description", "d", "", "profile description")

	var exportOut string
	exportCmd := &cobra.Command{
		Use:   "export <id-or-name>",
		Short: "Print a profile's guider config as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.Profiles().Lookup(args[0])
			if err != nil {
				return profileError(args[0], err)
			}
			return writeYAML(cmd, exportOut, p.Config)
		},
	}
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "write to file instead of stdout")

	deleteCmd := &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.Profiles().Lookup(args[0])
			if err != nil {
				return profileError(args[0], err)
			}
			if err := st.Profiles().Delete(p.ID); err != nil {
				return fmt.Errorf("failed to delete profile: %w", err)
			}
			if active, _ := st.Settings().Get(store.SettingActiveProfile); active == p.ID {
				if err := st.Settings().Delete(store.SettingActiveProfile); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", p.Name)
			return nil
		},
	}

	var saveAs, suggestOut string
	suggestCmd := &cobra.Command{
		Use:   "suggest <session-id>",
		Short: "Calibrate a guider config from a recorded session",
		Long: `Calibrate the blink threshold and the open-mouth band to the subject of a
recorded session. The session's profile, or the defaults, supply every
other setting. With --save the result is stored as a new profile.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, err := suggest(st, args[0])
			if err != nil {
				return err
			}

			if saveAs == "" {
				return writeYAML(cmd, suggestOut, cfg)
			}
			p := &store.Profile{
				ID:          uuid.NewString(),
				Name:        saveAs,
				Description: "calibrated from session " + args[0],
				Config:      cfg,
			}
			if err := st.Profiles().Create(p); err != nil {
				return fmt.Errorf("failed to create profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created profile %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	suggestCmd.Flags().StringVar(&saveAs, "save", "", "store the result as a profile with this name")
	suggestCmd.Flags().StringVarP(&suggestOut, "output", "o", "", "write to file instead of stdout")

	cmd.AddCommand(listCmd, importCmd, exportCmd, deleteCmd, suggestCmd)
	return cmd
}

// suggest calibrates the session's profile, or the defaults, to its samples.
func suggest(st *store.Store, sessionID string) (guider.Config, error) {
	s, err := st.Sessions().GetByID(sessionID)
	if err != nil {
		return guider.Config{}, sessionError(sessionID, err)
	}

	base := guider.DefaultConfig()
	if s.ProfileID != "" {
		if p, err := st.Profiles().GetByID(s.ProfileID); err == nil {
			base = p.Config
		}
	}

	samples, err := st.Samples().GetBySessionID(s.ID)
	if err != nil {
		return guider.Config{}, fmt.Errorf("failed to list samples: %w", err)
	}
	return metric.Calibrate(base,
		store.FeatureValues(samples, metric.LeftEAR, metric.RightEAR),
		store.FeatureValues(samples, metric.MAR),
	)
}

func profileError(ref string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("profile not found: %s", ref)
	}
	return err
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func writeYAML(cmd *cobra.Command, path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if path == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
