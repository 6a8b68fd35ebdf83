package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/client"
)

var pollInterval = time.Second

func newProjectsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "projects", Short: "Manage projects", Aliases: []string{"project", "p"}}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			projects, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).projects(projects)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get PROJECT_ID",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			p, err := c.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).projects([]*api.Project{p})
		},
	})

	var wait bool
	create := &cobra.Command{
		Use:   "create PROMPT",
		Short: "Create a project from a first prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.CreateProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := opts.printer(cmd.OutOrStdout())
			if !wait {
				return p.created(resp.Project.ID, resp.RunIDs)
			}
			return waitAndShow(cmd.Context(), c, opts, p, resp.Project.ID, resp.RunIDs)
		},
	}
	create.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the run and print the reply")
	cmd.AddCommand(create)

	return cmd
}

func newMessagesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "messages", Short: "Read and send project messages", Aliases: []string{"message", "m"}}

	cmd.AddCommand(&cobra.Command{
		Use:   "list PROJECT_ID",
		Short: "List the conversation of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			msgs, err := c.ListMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).messages(msgs)
		},
	})

	var wait bool
	send := &cobra.Command{
		Use:   "send PROJECT_ID PROMPT",
		Short: "Send a follow-up prompt to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.SendMessage(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			p := opts.printer(cmd.OutOrStdout())
			if !wait {
				return p.created(resp.ID, resp.RunIDs)
			}
			return waitAndShow(cmd.Context(), c, opts, p, args[0], resp.RunIDs)
		},
	}
	send.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the run and print the reply")
	cmd.AddCommand(send)

	return cmd
}

func newRunsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect code agent runs", Aliases: []string{"run"}}

	cmd.AddCommand(&cobra.Command{
		Use:   "get RUN_ID",
		Short: "Show the status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			run, err := c.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).run(run)
		},
	})

	return cmd
}

// waitAndShow waits for runs and prints the latest assistant message of
// the project.
func waitAndShow(ctx context.Context, c *client.Client, opts *options, p *printer, projectID string, runIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	for _, id := range runIDs {
		if _, err := c.WaitRun(ctx, id, pollInterval); err != nil {
			return err
		}
	}
	msgs, err := c.ListMessages(ctx, projectID)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == api.RoleAssistant {
			return p.messages(msgs[i : i+1])
		}
	}
	return p.messages(nil)
}
