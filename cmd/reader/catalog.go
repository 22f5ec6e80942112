package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	voicesProvider string

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the voices of a catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider := voicesProvider
			if provider == "" {
				provider = cfg.VoiceProvider
			}

			voices, err := newClient().Voices(cmd.Context(), provider)
			if err != nil {
				return fmt.Errorf("failed to list voices: %w", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROVIDER\tID")
			for _, v := range voices {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Name, v.Provider, v.ID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			printErr("%s voices", humanize.Comma(int64(len(voices))))
			return nil
		},
	}

	parseCmd = &cobra.Command{
		Use:   "parse FILE",
		Short: "Extract the text of a document without reading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck

			info, err := f.Stat()
			if err != nil {
				return err
			}

			doc, err := newClient().Parse(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			fmt.Println(doc.Text)
			printErr("%s: %s, %s characters, %s words",
				doc.FileName,
				humanize.Bytes(uint64(info.Size())),
				humanize.Comma(int64(doc.CharCount)),
				humanize.Comma(int64(doc.WordCount)))
			return nil
		},
	}
)

func init() {
	voicesCmd.Flags().StringVarP(&voicesProvider, "provider", "p", "", "voice catalog: PROVIDER_CATALOG or CUSTOM_CATALOG")
}
