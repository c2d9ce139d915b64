package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-stockroom/internal/log"
	"github.com/teslashibe/go-stockroom/pkg/report"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		title  string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the inventory to a new Google Doc",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			store, closer, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closer.Close()

			items, err := store.Items(ctx, cfg.UserID)
			if err != nil {
				return err
			}
			now := time.Now()
			if title == "" {
				title = report.Title(now)
			}
			content := report.Render(title, items, now)

			if dryRun {
				_, err := fmt.Fprint(cmd.OutOrStdout(), content)
				return err
			}

			exp, err := report.NewDocsExporter(report.DocsConfig{
				ClientID:     cfg.Docs.ClientID,
				ClientSecret: cfg.Docs.ClientSecret,
				TokenPath:    cfg.Docs.TokenPath,
				Logger:       log.Component("report"),
			})
			if err != nil {
				return err
			}
			if !exp.Authorized() {
				authCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
				defer cancel()
				err := exp.Authorize(authCtx, func(url string) error {
					_, err := fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL to allow access to Google Docs:\n\n  %s\n\n", url)
					return err
				})
				if err != nil {
					return err
				}
			}

			id, err := exp.Export(ctx, title, content)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.DocURL(id))
			return err
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (default: Inventory <date>)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report instead of exporting")
	return cmd
}
