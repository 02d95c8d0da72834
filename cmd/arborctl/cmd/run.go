package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arborflow/arborflow/internal/graph"
)

type startRunRequest struct {
	Graph *graph.Graph `json:"graph"`
	Input string       `json:"input,omitempty"`
}

type startRunResponse struct {
	RunID string `json:"runId"`
}

func runCmd() *cobra.Command {
	var input string
	var follow bool

	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Submit a graph for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraphFile(args[0])
			if err != nil {
				return err
			}

			body, err := json.Marshal(startRunRequest{Graph: g, Input: input})
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}

			resp, err := httpClient.Post(serverURL+"/api/v1/runs", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("submit run: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				return decodeAPIError(resp)
			}

			var out startRunResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			fmt.Println(out.RunID)
			if follow {
				return streamEvents(out.RunID, os.Stdout)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "seed text for zero-in-edge nodes")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream events after submission")
	return cmd
}

// loadGraphFile reads a YAML-authored graph and converts it to
// internal/graph's JSON-tagged types. YAML is a CLI authoring
// convenience only; the server itself only ever sees JSON.
func loadGraphFile(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse graph yaml: %w", err)
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize graph yaml: %w", err)
	}

	var g graph.Graph
	if err := json.Unmarshal(jsonBytes, &g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &g, nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message)
}
