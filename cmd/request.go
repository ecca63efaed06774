package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexsim/api"
)

var (
	requestPercent float64
	requestAPI     string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Ask a running simulation for a flexibility request",
	RunE:  sendRequest,
}

func init() {
	requestCmd.Flags().Float64VarP(&requestPercent, "percent", "p", 0, "baseline change in percent")
	requestCmd.Flags().StringVar(&requestAPI, "api", "http://localhost:8080", "control API base URL")
	_ = requestCmd.MarkFlagRequired("percent")
	rootCmd.AddCommand(requestCmd)
}

func sendRequest(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(api.RequestBody{Percent: requestPercent})
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, requestAPI+"/api/requests", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("request rejected (%s): %s", resp.Status, bytes.TrimSpace(out))
	}
	var w api.WindowResponse
	if err := json.Unmarshal(out, &w); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "requested %.1f%%: target %.0f from %d to %d\n", requestPercent, w.TargetBaseline, w.Start, w.Stop)
	return err
}
