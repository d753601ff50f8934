package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "streamvault",
		Short: "StreamVault CLI - Background download manager for streaming media",
		Long:  `A command-line interface for managing offline downloads of movies and episodes.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(pauseAllCmd)
	rootCmd.AddCommand(resumeAllCmd)
	rootCmd.AddCommand(retryFailedCmd)
	rootCmd.AddCommand(cancelActiveCmd)
	rootCmd.AddCommand(deleteCompletedCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var addCmd = &cobra.Command{
	Use:   "add [stream-url]",
	Short: "Add a download to the queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		kind, _ := cmd.Flags().GetString("kind")
		title, _ := cmd.Flags().GetString("title")
		contentID, _ := cmd.Flags().GetInt64("id")
		showID, _ := cmd.Flags().GetInt64("show")
		season, _ := cmd.Flags().GetInt("season")
		episode, _ := cmd.Flags().GetInt("episode")
		subtitleURL, _ := cmd.Flags().GetString("subtitle")
		source, _ := cmd.Flags().GetString("source")

		payload := map[string]interface{}{
			"kind":       kind,
			"title":      title,
			"stream_url": args[0],
		}
		if kind == "movie" {
			payload["content_id"] = contentID
		} else {
			payload["show_id"] = showID
			payload["season"] = season
			payload["episode"] = episode
		}
		if subtitleURL != "" {
			payload["subtitle_url"] = subtitleURL
		}
		if source != "" {
			payload["source"] = source
		}

		data, _ := json.Marshal(payload)
		resp, err := http.Post(serverURL+"/api/v1/downloads", "application/json", bytes.NewBuffer(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusCreated {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var result map[string]interface{}
		json.Unmarshal(body, &result)
		fmt.Printf("Download added successfully!\n")
		fmt.Printf("ID: %s\n", result["id"])
		fmt.Printf("Status: %s\n", result["state"])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		status, _ := cmd.Flags().GetString("status")

		url := serverURL + "/api/v1/downloads"
		if status != "" {
			url += "?status=" + status
		}

		resp, err := http.Get(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var downloads []map[string]interface{}
		json.Unmarshal(body, &downloads)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATE\tPROGRESS\tCREATED")
		for _, d := range downloads {
			progress, _ := d["progress"].(float64)
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%s\n",
				truncate(str(d["id"]), 24),
				truncate(str(d["title"]), 32),
				d["state"],
				progress,
				d["created_at"])
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		resp, err := http.Get(serverURL + "/api/v1/downloads/" + args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}

		var download map[string]interface{}
		json.Unmarshal(body, &download)

		fmt.Printf("Download Details:\n")
		fmt.Printf("  ID:       %s\n", download["id"])
		fmt.Printf("  Title:    %s\n", download["title"])
		fmt.Printf("  State:    %s\n", download["state"])
		if progress, ok := download["progress"].(float64); ok {
			fmt.Printf("  Progress: %.1f%%\n", progress)
		}
		fmt.Printf("  Created:  %s\n", download["created_at"])
		if download["file_name"] != nil && download["file_name"] != "" {
			fmt.Printf("  File:     %s\n", download["file_name"])
		}
		if download["error"] != nil && download["error"] != "" {
			fmt.Printf("  Error:    %s\n", download["error"])
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		resp, err := http.Get(serverURL + "/api/v1/downloads/stats")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var stats map[string]interface{}
		json.Unmarshal(body, &stats)

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:       %v\n", stats["total"])
		fmt.Printf("  Queued:      %v\n", stats["queued"])
		fmt.Printf("  Downloading: %v\n", stats["downloading"])
		fmt.Printf("  Paused:      %v\n", stats["paused"])
		fmt.Printf("  Completed:   %v\n", stats["completed"])
		fmt.Printf("  Failed:      %v\n", stats["failed"])
	},
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show disk space used by completed downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		resp, err := http.Get(serverURL + "/api/v1/downloads/storage")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		var result map[string]interface{}
		json.Unmarshal(body, &result)

		bytes, _ := result["bytes_used"].(float64)
		fmt.Printf("Storage used: %s\n", formatBytes(int64(bytes)))
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause an active download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/"+args[0]+"/pause", "Download paused")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a paused or failed download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/"+args[0]+"/resume", "Download resumed")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a download and discard partial data",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/"+args[0]+"/cancel", "Download cancelled")
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a download from the list",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		keepFile, _ := cmd.Flags().GetBool("keep-file")

		url := serverURL + "/api/v1/downloads/" + args[0]
		if keepFile {
			url += "?delete_file=false"
		}

		req, _ := http.NewRequest(http.MethodDelete, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}
		fmt.Println("Download removed")
	},
}

var pauseAllCmd = &cobra.Command{
	Use:   "pause-all",
	Short: "Pause all active downloads",
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/pause-all", "All active downloads paused")
	},
}

var resumeAllCmd = &cobra.Command{
	Use:   "resume-all",
	Short: "Resume all paused downloads",
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/resume-all", "All paused downloads resumed")
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-queue all failed downloads",
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/retry-failed", "All failed downloads re-queued")
	},
}

var cancelActiveCmd = &cobra.Command{
	Use:   "cancel-active",
	Short: "Cancel all queued, downloading and paused downloads",
	Run: func(cmd *cobra.Command, args []string) {
		postAction("/api/v1/downloads/cancel-active", "All active downloads cancelled")
	},
}

var deleteCompletedCmd = &cobra.Command{
	Use:   "delete-completed",
	Short: "Delete all completed downloads and their files",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		req, _ := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/downloads/completed", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}
		fmt.Println("All completed downloads deleted")
	},
}

// postAction sends a POST to the given path and prints the success message
func postAction(path, success string) {
	ensureServer()
	resp, err := http.Post(serverURL+path, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
		os.Exit(1)
	}
	fmt.Println(success)
}

func init() {
	addCmd.Flags().StringP("kind", "k", "movie", "Content kind (movie, episode)")
	addCmd.Flags().StringP("title", "t", "", "Content title")
	addCmd.Flags().Int64("id", 0, "Movie ID")
	addCmd.Flags().Int64("show", 0, "Show ID (episode only)")
	addCmd.Flags().Int("season", 0, "Season number (episode only)")
	addCmd.Flags().Int("episode", 0, "Episode number (episode only)")
	addCmd.Flags().String("subtitle", "", "Subtitle URL")
	addCmd.Flags().String("source", "", "Source provider name")
	addCmd.MarkFlagRequired("title")
	listCmd.Flags().StringP("status", "s", "", "Filter by state")
	removeCmd.Flags().Bool("keep-file", false, "Keep the downloaded file on disk")
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
