package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// Admin commands talk to a running server over the admin API rather than
// opening the store directly; the backends are single-process.

var serverAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration counters and recent failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Succeeded      int64 `json:"succeeded"`
			Skipped        int64 `json:"skipped"`
			Failed         int64 `json:"failed"`
			RecentFailures []struct {
				PostID   string `json:"post_id"`
				FailedAt int64  `json:"failed_at"`
			} `json:"recent_failures"`
		}
		if err := adminGet("/api/v1/migration/status", &out); err != nil {
			return err
		}
		fmt.Printf("succeeded: %d\nskipped:   %d\nfailed:    %d\n", out.Succeeded, out.Skipped, out.Failed)
		for _, f := range out.RecentFailures {
			fmt.Printf("  failed %s at %s\n", f.PostID, time.UnixMilli(f.FailedAt).Format(time.RFC3339))
		}
		return nil
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect <post-id>",
	Short: "Report which schema generation a record uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			PostID string `json:"post_id"`
			Schema string `json:"schema"`
		}
		if err := adminGet("/api/v1/migration/schema/"+url.PathEscape(args[0]), &out); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", out.PostID, out.Schema)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <post-id>",
	Short: "Trigger migration of one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			PostID   string `json:"post_id"`
			Migrated bool   `json:"migrated"`
		}
		if err := adminPost("/api/v1/migration/run/"+url.PathEscape(args[0]), &out); err != nil {
			return err
		}
		if out.Migrated {
			fmt.Printf("%s: migrated\n", out.PostID)
		} else {
			fmt.Printf("%s: not migrated (see server logs / status)\n", out.PostID)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, detectCmd, migrateCmd} {
		c.Flags().StringVar(&serverAddr, "server", envOr("DOODLERY_SERVER", "http://127.0.0.1:8080"), "Admin API base URL")
		rootCmd.AddCommand(c)
	}
}

func adminGet(path string, out any) error {
	resp, err := http.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("admin API: %w", err)
	}
	return decodeAdminResponse(resp, out)
}

func adminPost(path string, out any) error {
	resp, err := http.Post(serverAddr+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("admin API: %w", err)
	}
	return decodeAdminResponse(resp, out)
}

func decodeAdminResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read admin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("admin API %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("admin API %s", resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode admin response: %w", err)
	}
	return nil
}
