package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dormoron/polyel"
)

func routesCmd(root *rootOptions) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List registered routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, provider, err := buildApp(root, zap.NewNop())
			if err != nil {
				return err
			}
			defer provider.Close()
			defer a.Close()
			return printRoutes(cmd.OutOrStdout(), a.Server.Router().Routes(), method)
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "只列出指定方法的路由")
	return cmd
}

func printRoutes(w io.Writer, routes []polyel.RouteInfo, method string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tURI\tACTION\tTYPE\tMIDDLEWARE")
	for _, r := range routes {
		if method != "" && !strings.EqualFold(method, r.Method) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Method, r.Pattern, r.Action, r.Type, strings.Join(r.Middleware, ","))
	}
	return tw.Flush()
}
