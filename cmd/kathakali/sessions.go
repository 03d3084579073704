package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/store"
)

// sessionExport is the JSON form of an exported session.
type sessionExport struct {
	Session *store.Session `json:"session"`
	Samples []store.Sample `json:"samples"`
}

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect recorded sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.Sessions().List()
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions. Record one with 'kathakali serve --record'")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tDURATION\tSAMPLES\tRIG")
			for _, s := range sessions {
				duration := s.Duration().Round(100 * time.Millisecond).String()
				if s.EndedAt == nil {
					duration += " (open)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Name, s.StartedAt.Format("2006-01-02 15:04:05"), duration, s.Samples, s.Rig)
			}
			return tw.Flush()
		},
	}

	var exportOut string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a session and its samples as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.Sessions().GetByID(args[0])
			if err != nil {
				return sessionError(args[0], err)
			}
			samples, err := st.Samples().GetBySessionID(s.ID)
			if err != nil {
				return fmt.Errorf("failed to list samples: %w", err)
			}

			out := cmd.OutOrStdout()
			if exportOut != "" {
				f, err := os.Create(exportOut)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sessionExport{Session: s, Samples: samples})
		},
	}
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "write to file instead of stdout")

	var plotOut, plotFeatures string
	plotCmd := &cobra.Command{
		Use:   "plot <id>",
		Short: "Plot a session's features to a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.Sessions().GetByID(args[0])
			if err != nil {
				return sessionError(args[0], err)
			}
			samples, err := st.Samples().GetBySessionID(s.ID)
			if err != nil {
				return fmt.Errorf("failed to list samples: %w", err)
			}

			p, err := metric.Plot(s.Name, "Value", store.FeatureSeries(samples, strings.Split(plotFeatures, ",")...))
			if err != nil {
				return err
			}

			path := plotOut
			if path == "" {
				path = s.ID + ".png"
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := metric.WritePNG(f, p); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	plotCmd.Flags().StringVarP(&plotOut, "output", "o", "", "PNG path (default <id>.png)")
	plotCmd.Flags().StringVarP(&plotFeatures, "features", "f",
		strings.Join([]string{metric.LeftEAR, metric.RightEAR, metric.MAR}, ","), "comma separated features")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Sessions().Delete(args[0]); err != nil {
				return sessionError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, exportCmd, plotCmd, deleteCmd)
	return cmd
}

func sessionError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session not found: %s", id)
	}
	return err
}
