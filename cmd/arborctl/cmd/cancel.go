package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <runId>",
		Short: "Cancel a running graph execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := httpClient.Post(serverURL+"/api/v1/runs/"+args[0]+"/cancel", "application/json", nil)
			if err != nil {
				return fmt.Errorf("cancel run: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return decodeAPIError(resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}
