package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborflow/arborflow/internal/graph"
)

// statusCmd has no dedicated server-side endpoint: spec.md §6 only
// defines startRun, subscribe and cancel. It answers "what state is
// this run in" by attaching to the same subscribe stream a live client
// would use, draining whatever is immediately available (the replay
// buffer for a finished run, or the first events for one in flight),
// and reporting the last event seen before the snapshot window closes.
func statusCmd() *cobra.Command {
	var snapshotWindow time.Duration

	cmd := &cobra.Command{
		Use:   "status <runId>",
		Short: "Report the last known state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			last, err := snapshotStatus(args[0], snapshotWindow)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no events observed yet")
				return nil
			}
			out, err := json.Marshal(last)
			if err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().DurationVar(&snapshotWindow, "window", 3*time.Second, "how long to wait for events before reporting the last one seen")
	return cmd
}

func snapshotStatus(runID string, window time.Duration) (*graph.RunEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/api/v1/runs/"+runID+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var last *graph.RunEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var ev graph.RunEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		if ev.Type == "connected" {
			continue
		}
		evCopy := ev
		last = &evCopy

		switch ev.Type {
		case graph.EventRunCompleted, graph.EventRunError, graph.EventRunCancelled:
			return last, nil
		}
	}

	return last, nil
}
