// vinagent is the operator CLI for the vinagent gateway: posting synthetic
// inbound messages, working the task queue and linting the tenant registry.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
)

const defaultAddr = "http://localhost:8080"

var (
	flagAddr  string
	flagToken string

	httpClient = http.DefaultClient
)

var rootCmd = &cobra.Command{
	Use:           "vinagent",
	Short:         "Operator CLI for the vinagent gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <channel>",
	Short: "Post a synthetic inbound message to the gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var (
	ingestFrom       string
	ingestTo         string
	ingestBody       string
	ingestSubject    string
	ingestExternalID string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect member action tokens",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show <token>",
	Short: "Show what a confirmation token would apply",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenShow,
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Work with the tenant registry file",
}

var registryLintCmd = &cobra.Command{
	Use:   "lint <path>",
	Short: "Validate a registry file without starting the gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegistryLint,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", envOrDefault("VINAGENT_ADDR", defaultAddr), "gateway address")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("VINAGENT_TOKEN"), "staff bearer token")

	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "sender address (required)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "tenant inbound address (required)")
	ingestCmd.Flags().StringVar(&ingestBody, "body", "", "message body (required)")
	ingestCmd.Flags().StringVar(&ingestSubject, "subject", "", "subject, email only")
	ingestCmd.Flags().StringVar(&ingestExternalID, "external-id", "", "provider message id (required)")

	tokenCmd.AddCommand(tokenShowCmd)
	registryCmd.AddCommand(registryLintCmd)
	rootCmd.AddCommand(ingestCmd, tasksCmd, tokenCmd, registryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	channel := args[0]
	if ingestFrom == "" || ingestTo == "" || ingestBody == "" || ingestExternalID == "" {
		return fmt.Errorf("ingest requires --from --to --body --external-id")
	}

	payload := map[string]string{}
	switch channel {
	case "sms":
		payload["from"] = ingestFrom
		payload["to"] = ingestTo
		payload["body"] = ingestBody
		payload["message_id"] = ingestExternalID
	case "email":
		payload["from"] = ingestFrom
		payload["to"] = ingestTo
		payload["body"] = ingestBody
		payload["subject"] = ingestSubject
		payload["message_id"] = ingestExternalID
	case "voice":
		payload["caller"] = ingestFrom
		payload["to"] = ingestTo
		payload["transcript"] = ingestBody
		payload["call_id"] = ingestExternalID
	default:
		return fmt.Errorf("unsupported channel %q (use sms|email|voice)", channel)
	}

	respBody, status, err := apiDo(http.MethodPost, "/v1/ingest/"+channel, payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return apiError(respBody, status)
	}

	var outcome struct {
		Duplicate bool   `json:"duplicate"`
		MessageID string `json:"message_id"`
		TaskID    string `json:"task_id"`
	}
	if err := json.Unmarshal(respBody, &outcome); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	if outcome.Duplicate {
		fmt.Fprintf(cmd.OutOrStdout(), "duplicate message_id=%s\n", outcome.MessageID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created message_id=%s task_id=%s\n", outcome.MessageID, outcome.TaskID)
	return nil
}

func runTokenShow(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo(http.MethodGet, "/v1/member/confirm/"+args[0], nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(body, status)
	}

	var view struct {
		TenantName  string         `json:"tenant_name"`
		ContactName string         `json:"contact_name"`
		Type        string         `json:"type"`
		Proposed    map[string]any `json:"proposed"`
		ExpiresAt   string         `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "type=%s tenant=%s contact=%s expires=%s\n",
		view.Type, view.TenantName, view.ContactName, view.ExpiresAt)
	for k, v := range view.Proposed {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %v\n", k, v)
	}
	return nil
}

func runRegistryLint(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok tenants=%d staff=%d\n", len(reg.Tenants), len(reg.Staff))
	return nil
}

func apiDo(method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, flagAddr+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if flagToken != "" {
		req.Header.Set("Authorization", "Bearer "+flagToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// apiError turns a gateway error body into a CLI error, falling back to the
// raw body when it is not the expected shape.
func apiError(body []byte, status int) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Code != "" {
		return fmt.Errorf("%s: %s", payload.Error.Code, payload.Error.Message)
	}
	return fmt.Errorf("gateway returned %d: %s", status, bytes.TrimSpace(body))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
