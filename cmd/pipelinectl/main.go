// Command pipelinectl is a thin HTTP client CLI against the content-pipeline
// API (spec.md §6). It implements the spec's exit-code contract: 0 on
// success, 1 on error, with cancellation of an already-terminal task
// reported as an error rather than silently succeeding.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var serverAddr string

	rootCmd := &cobra.Command{
		Use:   "pipelinectl",
		Short: "Inspect and control content-pipeline tasks",
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "content-pipeline API base URL")

	rootCmd.AddCommand(
		statusCmd(&serverAddr),
		cancelCmd(&serverAddr),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl: %v\n", err)
		os.Exit(1)
	}
}

func statusCmd(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <taskID>",
		Short: "Print a task's current status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := apiGet(*serverAddr, "/api/tasks/"+args[0]+"/status")
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

func cancelCmd(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <taskID>",
		Short: "Cancel a non-terminal task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := apiDelete(*serverAddr, "/api/tasks/"+args[0])
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func apiGet(serverAddr, path string) (json.RawMessage, error) {
	return do(http.MethodGet, serverAddr+path)
}

func apiDelete(serverAddr, path string) (json.RawMessage, error) {
	return do(http.MethodDelete, serverAddr+path)
}

func do(method, url string) (json.RawMessage, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("%s: %s", env.Error.Kind, env.Error.Message)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return env.Data, nil
}

func printJSON(data json.RawMessage) error {
	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
