package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewPingCommand creates the ping command.
func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, closeClient, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient()

			start := time.Now()
			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			elapsed := time.Since(start)

			version, err := client.Version(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Ok. ClickHouse %s at %s (%s)\n",
				version, client.Config().BaseURL(), elapsed.Round(time.Millisecond))
			return nil
		},
	}
}
