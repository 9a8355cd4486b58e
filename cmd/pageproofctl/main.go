// Package main is the PageProof operator CLI: start or abort indexing jobs,
// follow a workspace's event stream, mint session tokens, and render a PDF
// locally for debugging.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pageproof/internal/render"
	"pageproof/internal/signing"
)

var (
	serverURL    string
	serviceToken string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pageproofctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pageproofctl",
		Short:        "PageProof operator CLI",
		Long:         `pageproofctl drives a running PageProof server: it starts and aborts indexing jobs, follows workspace event streams, mints session tokens, and renders PDFs locally.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PAGEPROOF_SERVER_URL", "http://localhost:8080"), "Base URL of the PageProof API")
	cmd.PersistentFlags().StringVar(&serviceToken, "token", os.Getenv("PAGEPROOF_SERVICE_TOKEN"), "Service token for start/abort calls")
	cmd.AddCommand(
		newStartCmd(),
		newAbortCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newTokenCmd(),
		newRenderCmd(),
		newInspectCmd(),
	)
	return cmd
}

func newStartCmd() *cobra.Command {
	var docIDs []string
	var dpi, quality int
	var model string
	cmd := &cobra.Command{
		Use:   "start <workspace-id>",
		Short: "Start an indexing job for a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{"workspaceId": args[0]}
			if len(docIDs) > 0 {
				payload["documentIds"] = docIDs
			}
			if dpi > 0 {
				payload["renderDpi"] = dpi
			}
			if quality > 0 {
				payload["renderQuality"] = quality
			}
			if model != "" {
				payload["analysisModel"] = model
			}
			return postJSON(cmd.Context(), "/v1/index", payload)
		},
	}
	cmd.Flags().StringSliceVar(&docIDs, "doc", nil, "Restrict the run to specific document IDs (repeatable)")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "Rasterization DPI (server default when omitted)")
	cmd.Flags().IntVar(&quality, "quality", 0, "JPEG quality 1-100 (server default when omitted)")
	cmd.Flags().StringVar(&model, "model", "", "Analysis model identifier")
	return cmd
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <workspace-id>",
		Short: "Cancel the workspace's active indexing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/workspaces/%s/index/abort", url.PathEscape(args[0]))
			return postJSON(cmd.Context(), path, nil)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "status <workspace-id>",
		Short: "Show the workspace's most recent job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/workspaces/%s/job", url.PathEscape(args[0]))
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, serverURL+path, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+session)
			return doAndPrint(req)
		},
	}
	cmd.Flags().StringVar(&session, "session", os.Getenv("PAGEPROOF_SESSION_TOKEN"), "Session token of a workspace member")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "watch <workspace-id>",
		Short: "Follow a workspace's event stream until the job ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamURL := fmt.Sprintf("%s/v1/workspaces/%s/events?token=%s",
				serverURL, url.PathEscape(args[0]), url.QueryEscape(session))
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, streamURL, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("stream rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
			}
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" || line[0] == ':' {
					continue
				}
				fmt.Println(line)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&session, "session", os.Getenv("PAGEPROOF_SESSION_TOKEN"), "Session token of a workspace member")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a session token for the event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("PAGEPROOF_SESSION_SECRET")
			if secret == "" {
				return fmt.Errorf("PAGEPROOF_SESSION_SECRET is not set")
			}
			signer := signing.NewSigner([]byte(secret))
			fmt.Println(signer.Token(args[0], ttl))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var outDir, binary string
	var dpi, quality int
	cmd := &cobra.Command{
		Use:   "render <file.pdf>",
		Short: "Rasterize a PDF locally and write page JPEGs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return err
			}
			engine := render.NewEngine(binary, zerolog.New(os.Stderr))
			pages, err := engine.Render(cmd.Context(), data, render.Options{DPI: dpi, Quality: quality})
			if err != nil {
				return err
			}
			for _, page := range pages {
				name := filepath.Join(outDir, fmt.Sprintf("page-%d.jpg", page.PageNumber))
				if err := os.WriteFile(name, page.Image, 0o644); err != nil {
					return err
				}
				fmt.Printf("%s (%dx%d)\n", name, page.Width, page.Height)
			}
			fmt.Printf("%d pages rendered\n", len(pages))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "pages", "Output directory for page images")
	cmd.Flags().StringVar(&binary, "rasterizer", "pdftoppm", "Rasterizer binary")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "Rasterization DPI")
	cmd.Flags().IntVar(&quality, "quality", 0, "JPEG quality 1-100")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.pdf>",
		Short: "Print a PDF's page count without rendering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := render.Inspect(data)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d pages\n", args[0], n)
			return nil
		},
	}
}

func postJSON(ctx context.Context, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+serviceToken)
	return doAndPrint(req)
}

func doAndPrint(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(bytes.TrimSpace(data)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
