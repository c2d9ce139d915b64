package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-stockroom/pkg/live/wslive"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

func newToolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool declarations sent to the speech service",
		RunE: func(cmd *cobra.Command, args []string) error {
			decls := wslive.FunctionDeclarations(tools.Default().Specs())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decls)
		},
	}
}
