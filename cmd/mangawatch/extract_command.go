package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mangawatch/internal/app"
	"mangawatch/internal/source"
	logx "mangawatch/pkg/logx"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Fetch one work page and print what would be recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := source.NormalizeURL(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			src, err := app.NewExtractor(cfg, logx.NewConsole(cfg.Logging.Level))
			if err != nil {
				return err
			}
			rec, err := src.Extract(cmd.Context(), url)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Field", "Value"},
				[][]string{
					{"Title", rec.Title},
					{"Latest", strconv.Itoa(rec.Installment)},
					{"URL", rec.InstallmentURL},
					{"Cover", rec.ImageURL},
				},
				nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
