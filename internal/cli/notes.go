package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/workspace"
)

func newKnowledgeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kb",
		Aliases: []string{"knowledge"},
		Short:   "Manage a project's knowledge base",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list ID",
		Short: "List knowledge entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				for _, e := range s.Knowledge() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n  %s\n", e.ID, e.Category, e.Title, e.Content)
				}
				return nil
			})
		},
	})

	var category string
	add := &cobra.Command{
		Use:   "add ID TITLE CONTENT",
		Short: "Add a knowledge entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				e := s.AddKnowledge(args[1], args[2], category)
				fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&category, "category", "general", "business, technical, user or general")

	var title, content, newCategory string
	update := &cobra.Command{
		Use:   "update ID ENTRY_ID",
		Short: "Change a knowledge entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u workspace.KnowledgeUpdate
			if cmd.Flags().Changed("title") {
				u.Title = &title
			}
			if cmd.Flags().Changed("content") {
				u.Content = &content
			}
			if cmd.Flags().Changed("category") {
				u.Category = &newCategory
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				_, err := s.UpdateKnowledge(args[1], u)
				return err
			})
		},
	}
	update.Flags().StringVar(&title, "title", "", "New title")
	update.Flags().StringVar(&content, "content", "", "New content")
	update.Flags().StringVar(&newCategory, "category", "", "New category")

	rm := &cobra.Command{
		Use:   "rm ID ENTRY_ID",
		Short: "Delete a knowledge entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				return s.DeleteKnowledge(args[1])
			})
		},
	}

	cmd.AddCommand(add, update, rm)
	return cmd
}

func newClipboardCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clip",
		Aliases: []string{"clipboard"},
		Short:   "Manage a project's clipboard",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list ID",
		Short: "List clipboard items, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tRELEVANCE\tCONTENT")
				for _, item := range s.Clipboard() {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, item.Type, item.Relevance, oneLine(item.Content, 60))
				}
				return tw.Flush()
			})
		},
	})

	var (
		itemType  string
		relevance string
		summary   string
	)
	add := &cobra.Command{
		Use:   "add ID CONTENT",
		Short: "Put an item on the clipboard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				item := s.AddClipboardItem(models.ClipboardItem{
					Content:   args[1],
					Type:      models.ClipboardCategory(itemType),
					Relevance: models.Relevance(relevance),
					Summary:   summary,
				})
				fmt.Fprintln(cmd.OutOrStdout(), item.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&itemType, "type", string(models.ClipIdea), "Item category")
	add.Flags().StringVar(&relevance, "relevance", string(models.RelevanceMedium), "high, medium or low")
	add.Flags().StringVar(&summary, "summary", "", "Short summary")

	rm := &cobra.Command{
		Use:   "rm ID ITEM_ID",
		Short: "Delete a clipboard item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				return s.DeleteClipboardItem(args[1])
			})
		},
	}

	cmd.AddCommand(add, rm)
	return cmd
}

func newChatCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and append to a project's chat log",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "log ID",
		Short: "Print the chat log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				for _, m := range s.Messages() {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n",
						m.Timestamp.Local().Format(time.DateTime), m.Role, m.Text)
				}
				return nil
			})
		},
	})

	var role string
	say := &cobra.Command{
		Use:   "say ID TEXT...",
		Short: "Append a message to the chat log",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := models.ChatRole(role)
			if r != models.RoleUser && r != models.RoleModel {
				return fmt.Errorf("role must be %s or %s", models.RoleUser, models.RoleModel)
			}
			return a.withSession(cmd, args[0], func(ctx context.Context, s *workspace.Session) error {
				m := s.AppendMessage(r, strings.Join(args[1:], " "))
				fmt.Fprintln(cmd.OutOrStdout(), m.ID)
				return nil
			})
		},
	}
	say.Flags().StringVar(&role, "role", string(models.RoleUser), "user or model")

	cmd.AddCommand(say)
	return cmd
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
