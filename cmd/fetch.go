// File: cmd/fetch.go
package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/loupe/internal/browser/network/customhttp"
	"github.com/xkilldash9x/loupe/internal/observability"
)

func newFetchCmd() *cobra.Command {
	var (
		headersOnly bool
		http3       bool
		insecure    bool
	)
	fetchCmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetches a URL and prints the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http3") {
				cfg.SetNetworkPreferHTTP3(http3)
			}
			if cmd.Flags().Changed("insecure") {
				cfg.SetNetworkInsecureSkipVerify(insecure)
			}

			logger := observability.GetLogger()
			cc, err := customhttp.NewClientConfig(cfg.Network(), logger)
			if err != nil {
				return fmt.Errorf("failed to configure HTTP client: %w", err)
			}
			client := customhttp.NewClient(cc, logger, customhttp.WithMetrics(observability.NewMetrics()))
			defer client.CloseAll()

			resp, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			defer resp.Body.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", resp.Proto, resp.Status)
			for _, name := range slices.Sorted(maps.Keys(resp.Header)) {
				for _, v := range resp.Header[name] {
					fmt.Fprintf(out, "%s: %s\n", name, v)
				}
			}
			if headersOnly {
				return nil
			}
			fmt.Fprintln(out)
			_, err = io.Copy(out, resp.Body)
			return err
		},
	}
	fetchCmd.Flags().BoolVarP(&headersOnly, "head", "I", false, "print only the status line and headers")
	fetchCmd.Flags().BoolVar(&http3, "http3", false, "prefer HTTP/3 where an Alt-Svc advertises it")
	fetchCmd.Flags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	return fetchCmd
}
