// Package main implements the flowctl CLI for manual operations against
// the flowd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the flowd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "CLI for flowd HTTP server operations",
	Long: `flowctl is a command-line interface for interacting with the flowd HTTP server.
It provides commands for classifying requests, inspecting project state, and
checking server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "flowd server URL")
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}

// classifyCmd classifies a request without executing it
var classifyCmd = &cobra.Command{
	Use:   "classify [request...]",
	Short: "Classify a development request into a lane",
	Long: `Classify a development request into the quick or complex lane without
executing it. The full decision, including keyword factors and the scale
assessment, is printed as JSON.

Examples:
  # Classify a request
  flowctl classify fix typo in readme

  # Read the request from stdin
  echo "redesign the auth system" | flowctl classify -

  # Use a different server
  flowctl classify --server http://localhost:8080 fix typo in readme`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

// statusCmd reports a project's phase state
var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project's current phase and history",
	Long: `Show a project's current phase, its transition history, and the lane
decisions recorded for it.

Examples:
  # Show a project
  flowctl status my-project`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check flowd server health",
	Long: `Check the health status of the flowd HTTP server.

Examples:
  # Check health
  flowctl health

  # Check health on a different server
  flowctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// ClassifyRequest matches internal/httpapi/server.go ClassifyRequest
type ClassifyRequest struct {
	Request string `json:"request"`
}

// HealthResponse matches internal/httpapi/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runClassify handles the classify command
func runClassify(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")
	if request == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		request = strings.TrimSpace(string(content))
	}
	if request == "" {
		return fmt.Errorf("no request to classify")
	}

	reqJSON, err := json.Marshal(ClassifyRequest{Request: request})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/classify", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return printJSONResponse(resp)
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/projects/%s", serverURL, args[0])

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return printJSONResponse(resp)
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// printJSONResponse pretty-prints a successful JSON response body.
func printJSONResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
