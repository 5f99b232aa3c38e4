package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/archive"
	"github.com/vibecode/vibecode/internal/client"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/workspace"
)

func newImportCommand(a *app) *cobra.Command {
	var fromServer bool
	cmd := &cobra.Command{
		Use:   "import ID [ARCHIVE.zip]",
		Short: "Replace a project's tree with the contents of a zip archive",
		Long: `Replace a project's tree with the contents of a zip archive.

When a remote store is configured the raw archive is kept there too, and
--from-server rebuilds the tree from that copy. Node ids are archive paths,
so re-importing the same archive keeps them stable.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromServer && len(args) != 2 {
				return errors.New("an archive path is required unless --from-server is set")
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				var data []byte
				var err error
				if fromServer {
					if a.remote == nil {
						return errors.New("--from-server needs a remote store")
					}
					data, err = a.remote.GetArchive(ctx, args[0])
					if client.IsNotFound(err) {
						return fmt.Errorf("the server keeps no archive for project %s; import a zip file first", args[0])
					}
				} else {
					data, err = os.ReadFile(args[1])
				}
				if err != nil {
					return err
				}

				roots, err := archive.ReadZipBytes(data)
				if err != nil {
					return err
				}
				s.ImportArchive(roots)

				if a.remote != nil && !fromServer {
					if _, err := a.remote.PutArchive(ctx, args[0], data); err != nil {
						logging.Warn("archive not retained remotely", logging.Project(args[0]), zap.Error(err))
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d files\n", s.Stats().FilesCount)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromServer, "from-server", false, "Re-import the archive kept by the remote store")
	return cmd
}

func newAddFileCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-file ID FILE",
		Short: "Add a single file to the root of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				n, err := s.ImportFile(filepath.Base(args[1]), content)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n.ID)
				return nil
			})
		},
	}
}

func newTreeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree ID",
		Short: "Print a project's file tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				printTree(cmd.OutOrStdout(), s.Tree().Roots, 0)
				st := s.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d files, %d messages, %d tasks\n", st.FilesCount, st.ChatsCount, st.TasksCount)
				return nil
			})
		},
	}
}

func printTree(w io.Writer, nodes []*models.FileNode, depth int) {
	for _, n := range nodes {
		indent := strings.Repeat("  ", depth)
		switch {
		case n.IsDir():
			fmt.Fprintf(w, "%s%s/\n", indent, n.Name)
			printTree(w, n.Children, depth+1)
		case n.Content == nil:
			fmt.Fprintf(w, "%s%s (binary)\n", indent, n.Name)
		default:
			fmt.Fprintf(w, "%s%s\n", indent, n.Name)
		}
	}
}

func newCatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat ID PATH",
		Short: "Print a file of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				n := s.Tree().FindByPath(args[1])
				if n == nil || n.IsDir() {
					return fmt.Errorf("%s: %w", args[1], workspace.ErrNodeNotFound)
				}
				if n.Content == nil {
					return fmt.Errorf("%s is a binary file", args[1])
				}
				fmt.Fprint(cmd.OutOrStdout(), *n.Content)
				return nil
			})
		},
	}
}

func newEditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit ID PATH",
		Short: "Replace a file's content with standard input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				created, err := s.ApplyPathEdit(args[1], string(content))
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[1])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[1])
				}
				return nil
			})
		},
	}
}

func newApplyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply ID [REPLY_FILE]",
		Short: "Apply the <file_changes> block of an assistant reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply []byte
			var err error
			if len(args) == 2 {
				reply, err = os.ReadFile(args[1])
			} else {
				reply, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				changes, err := s.ApplyFileChanges(string(reply))
				if err != nil {
					return err
				}
				for _, c := range changes {
					fmt.Fprintln(cmd.OutOrStdout(), c.Path)
				}
				return nil
			})
		},
	}
}

func newExtractCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract ID",
		Short: "Print every text file of a project as one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				text, n := s.ExtractText()
				fmt.Fprint(cmd.OutOrStdout(), text)
				fmt.Fprintf(cmd.ErrOrStderr(), "%d files\n", n)
				return nil
			})
		},
	}
}

func newTasksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks ID COUNT",
		Short: "Record the number of plan tasks of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid task count %q", args[1])
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				s.SetTaskCount(n)
				return nil
			})
		},
	}
}
