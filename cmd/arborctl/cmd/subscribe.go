package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <runId>",
		Short: "Stream events for a run as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(args[0], cmd.OutOrStdout())
		},
	}
}

// streamEvents reads the server-sent-event stream for a run and writes
// each event as one line of JSON until the stream closes or a
// runCompleted, runError or runCancelled event has been written.
func streamEvents(runID string, w io.Writer) error {
	resp, err := httpClient.Get(serverURL + "/api/v1/runs/" + runID + "/events")
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var pretty map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &pretty); err != nil {
			fmt.Fprintln(w, payload)
			continue
		}
		out, err := json.Marshal(pretty)
		if err != nil {
			fmt.Fprintln(w, payload)
			continue
		}
		fmt.Fprintln(w, string(out))

		if pretty["type"] == "runCompleted" || pretty["type"] == "runError" || pretty["type"] == "runCancelled" {
			return nil
		}
	}
	return scanner.Err()
}
