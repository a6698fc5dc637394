// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Activation Key Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("KEYCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(bindCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(toggleCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keyctl version %s\n", version)
		},
	}
}

func requireAPIURL() error {
	if apiURL == "" {
		return fmt.Errorf("--api-url is required (or set KEYCTL_API_URL)")
	}
	return nil
}

// createCmd はキーの発行コマンド。
func createCmd() *cobra.Command {
	var validityMonths int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new activation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			// 未指定ならサーバー側のデフォルト有効期間に任せる
			req := map[string]int{}
			if cmd.Flags().Changed("validity-months") {
				req["validity_months"] = validityMonths
			}
			payload, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}

			url := fmt.Sprintf("%s/v1/keys", apiURL)
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusCreated {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Issued key %s (validity: %.0f month(s))\n", result["key"], result["validity_months"])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&validityMonths, "validity-months", 0, "Validity period in months (omit for server default)")
	return cmd
}

// listCmd はキー一覧の取得コマンド。
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all activation keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/keys", apiURL)
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			var result struct {
				Keys []struct {
					Key            string `json:"key"`
					Active         bool   `json:"active"`
					ValidityMonths int    `json:"validity_months"`
					BoundIdentity  string `json:"bound_identity"`
					CreatedAt      string `json:"created_at"`
					Expired        bool   `json:"expired"`
				} `json:"keys"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			fmt.Printf("%-38s %-8s %-8s %-8s %-22s %s\n", "KEY", "ACTIVE", "MONTHS", "EXPIRED", "CREATED_AT", "IDENTITY")
			for _, k := range result.Keys {
				identity := k.BoundIdentity
				if identity == "" {
					identity = "-"
				}
				fmt.Printf("%-38s %-8t %-8d %-8t %-22s %s\n", k.Key, k.Active, k.ValidityMonths, k.Expired, k.CreatedAt, identity)
			}
			return nil
		},
	}
}

// bindCmd はキーへの識別子紐付けコマンド。
func bindCmd() *cobra.Command {
	var keyID, identity string
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind an identity to an activation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			payload, err := json.Marshal(map[string]string{"key": keyID, "identity": identity})
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}

			url := fmt.Sprintf("%s/v1/keys/bind", apiURL)
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				fmt.Printf("Bound key %s to identity %q\n", keyID, identity)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "Activation key ID (required)")
	cmd.Flags().StringVar(&identity, "identity", "", "Client identity (required)")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("identity")
	return cmd
}

// verifyCmd はキーの検証コマンド。
func verifyCmd() *cobra.Command {
	var keyID, identity string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an activation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			payload, err := json.Marshal(map[string]string{"key": keyID, "identity": identity})
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}

			url := fmt.Sprintf("%s/v1/keys/verify", apiURL)
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Key is valid (remaining days: %.0f)\n", result["remaining_days"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "Activation key ID (required)")
	cmd.Flags().StringVar(&identity, "identity", "", "Client identity (required)")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("identity")
	return cmd
}

// toggleCmd は有効フラグの反転コマンド。
func toggleCmd() *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Toggle the active flag of an activation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/keys/%s/toggle", apiURL, keyID)
			req, err := http.NewRequest(http.MethodPut, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Key %s is now active=%v\n", keyID, result["active"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "Activation key ID (required)")
	cmd.MarkFlagRequired("key")
	return cmd
}

// deleteCmd はキーの削除コマンド。
func deleteCmd() *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an activation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/keys/%s", apiURL, keyID)
			req, err := http.NewRequest(http.MethodDelete, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				fmt.Printf("Deleted key %s\n", keyID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "Activation key ID (required)")
	cmd.MarkFlagRequired("key")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
