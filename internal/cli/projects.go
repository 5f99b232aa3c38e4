package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecode/vibecode/internal/auth"
)

func newProjectsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"p"},
		Short:   "List, create and delete projects",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects, most recently opened first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd, func(ctx context.Context) error {
				projects, err := a.gw.ListProjects(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tFILES\tCHATS\tTASKS\tLAST OPENED")
				for _, p := range projects {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
						p.ID, p.Name, p.Stats.FilesCount, p.Stats.ChatsCount, p.Stats.TasksCount,
						p.LastOpened.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd, func(ctx context.Context) error {
				var desc *string
				if description != "" {
					desc = &description
				}
				p, outcome, err := a.gw.CreateProject(ctx, args[0], desc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID)
				fmt.Fprintf(cmd.ErrOrStderr(), "created %q in the %s store\n", p.Name, outcome)
				return nil
			})
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "Project description")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a project and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd, func(ctx context.Context) error {
				outcome, err := a.gw.DeleteProject(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s from the %s store\n", args[0], outcome)
				return nil
			})
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which stores are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd, func(ctx context.Context) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "local store:  %s\n", a.local.Path())
				if a.remote == nil {
					fmt.Fprintln(out, "remote store: not configured")
					return nil
				}
				if err := a.remote.Ping(ctx); err != nil {
					fmt.Fprintf(out, "remote store: %s unreachable (%v)\n", a.cfg.ServerURL, err)
					return nil
				}
				fmt.Fprintf(out, "remote store: %s online\n", a.cfg.ServerURL)
				return nil
			})
		},
	}
}

// newTokenCommand signs a bearer token with the server's secret, for
// setting up clients of a server that has JWT_SECRET configured.
func newTokenCommand(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with the secret in JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.New(os.Getenv("JWT_SECRET")).IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "vibecode-cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}
