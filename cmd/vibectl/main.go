// Command vibectl is a command-line client for the vibe API.
//
//	vibectl projects create "a landing page for a bakery" --wait
//	vibectl messages list proj_...
//
// The server and credentials default to VIBE_SERVER and VIBE_TOKEN.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/vibe/pkg/client"
)

var version = "dev"

type options struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Getenv).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "vibectl",
		Short:         "Command-line client for the vibe code agent API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch opts.output {
			case "text", "json":
				return nil
			}
			return fmt.Errorf("unknown output format %q (want text or json)", opts.output)
		},
	}

	server := getenv("VIBE_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", server, "API server URL (env VIBE_SERVER)")
	flags.StringVar(&opts.token, "token", getenv("VIBE_TOKEN"), "API key or session token (env VIBE_TOKEN)")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "how long --wait waits for a run")

	root.AddCommand(
		newProjectsCommand(opts),
		newMessagesCommand(opts),
		newRunsCommand(opts),
	)
	return root
}

func (o *options) client() (*client.Client, error) {
	return client.New(o.server, client.WithToken(o.token))
}

func (o *options) printer(w io.Writer) *printer {
	return &printer{w: w, json: o.output == "json"}
}
