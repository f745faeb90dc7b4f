// Inquestctl is a small operator CLI for the inquest investigation API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	v "github.com/linnemanlabs/go-core/version"
)

const appName = "inquestctl"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type clientOpts struct {
	server  string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &clientOpts{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Operator CLI for the inquest fraud investigation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Flags win over environment, matching the server convention.
			if opts.token == "" {
				opts.token = os.Getenv("INQUEST_API_TOKEN")
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "inquest API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "API bearer token (defaults to INQUEST_API_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newSubmitCmd(opts),
		newGetCmd(opts),
		newTxnCmd(opts),
		newListCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newSubmitCmd(opts *clientOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <transaction-id>",
		Short: "Submit a transaction for investigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"transaction_id": args[0]})
			if err != nil {
				return err
			}
			return opts.do(cmd.Context(), cmd.OutOrStdout(),
				http.MethodPost, "/api/v1/investigations", bytes.NewReader(body))
		},
	}
}

func newGetCmd(opts *clientOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "get <investigation-id>",
		Short: "Fetch an investigation by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.do(cmd.Context(), cmd.OutOrStdout(),
				http.MethodGet, "/api/v1/investigations/"+args[0], nil)
		},
	}
}

func newTxnCmd(opts *clientOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "txn <transaction-id>",
		Short: "Fetch the investigation for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.do(cmd.Context(), cmd.OutOrStdout(),
				http.MethodGet, "/api/v1/transactions/"+args[0]+"/investigation", nil)
		},
	}
}

func newListCmd(opts *clientOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent investigations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.do(cmd.Context(), cmd.OutOrStdout(),
				http.MethodGet, fmt.Sprintf("/api/v1/investigations?limit=%d", limit), nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum investigations to return")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s %s (commit=%s, build_date=%s, go=%s)\n",
				appName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		},
	}
}

// do performs one API request and pretty-prints the JSON response body.
func (o *clientOpts) do(ctx context.Context, out io.Writer, method, path string, body io.Reader) error {
	url := strings.TrimRight(o.server, "/") + path

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		// Not JSON, print as-is.
		fmt.Fprintln(out, strings.TrimSpace(string(raw)))
		return nil
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}
