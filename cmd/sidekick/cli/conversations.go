package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/conversation"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/grpcapi"
	"github.com/spf13/cobra"
)

// RegisterConversationCommands adds chat commands.
func RegisterConversationCommands(root *cobra.Command) {
	chatCmd := &cobra.Command{
		Use:     "chat",
		Aliases: []string{"conversation", "conversations"},
		Short:   "Conversations: task requests with their replies",
	}

	chatCmd.AddCommand(newChatNewCmd())
	chatCmd.AddCommand(newChatListCmd())
	chatCmd.AddCommand(newChatShowCmd())
	chatCmd.AddCommand(newChatSendCmd())
	chatCmd.AddCommand(newChatRenameCmd())
	chatCmd.AddCommand(newChatDeleteCmd())

	root.AddCommand(chatCmd)
}

func newChatNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [title...]",
		Short: "Start a conversation (untitled ones are named from the first message)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conv core.Conversation
			if err := call(cmd, "conversation.create", map[string]string{"title": strings.Join(args, " ")}, &conv); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(conv)
			}
			fmt.Printf("Conversation created: %s\n", conv.ID)
			return nil
		},
	}
}

func newChatListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			var convs []core.Conversation
			if err := call(cmd, "conversation.list", map[string]int{"limit": limit, "offset": offset}, &convs); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(convs)
			}
			if len(convs) == 0 {
				fmt.Println("No conversations.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tACCOUNT\tMESSAGES\tUPDATED")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					c.ID, truncate(titleOf(c), 40), boundAccount(c), c.MessageCount, formatTime(c.UpdatedAt))
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum conversations to show")
	cmd.Flags().Int("offset", 0, "Conversations to skip")
	return cmd
}

func newChatShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var conv core.Conversation
			if err := call(cmd, "conversation.get", map[string]string{"id": args[0]}, &conv); err != nil {
				return err
			}
			var msgs []core.Message
			if err := call(cmd, "conversation.messages", map[string]string{"id": args[0]}, &msgs); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(map[string]any{"conversation": conv, "messages": msgs})
			}

			fmt.Printf("%s  [%s]\n\n", titleOf(conv), boundAccount(conv))
			for _, m := range msgs {
				printMessage(m)
			}
			return nil
		},
	}
}

func newChatSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <id> <message...>",
		Short: "Send a message; it runs as a task under the active account",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			var res grpcapi.SendResult
			err := call(cmd, "conversation.send", map[string]string{
				"id":      args[0],
				"content": strings.Join(args[1:], " "),
			}, &res)
			if err != nil {
				return err
			}
			if !wait {
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				fmt.Printf("Sent. Task %s running under %s\n", res.Task.ID, res.Task.AccountAlias)
				return nil
			}

			var rec core.TaskRecord
			if err := callWithTimeout(cmd, timeout, "task.wait", map[string]string{"id": res.Task.ID}, &rec); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(rec)
			}
			fmt.Println(conversation.ReplyContent(rec))
			return nil
		},
	}
	cmd.Flags().Bool("wait", true, "Wait for the reply")
	cmd.Flags().Duration("timeout", 10*time.Minute, "How long to wait for the reply")
	return cmd
}

func newChatRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Change a conversation's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var conv core.Conversation
			params := map[string]string{"id": args[0], "title": strings.Join(args[1:], " ")}
			if err := call(cmd, "conversation.rename", params, &conv); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(conv)
			}
			fmt.Printf("Conversation %s renamed: %s\n", conv.ID, conv.Title)
			return nil
		},
	}
}

func newChatDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(cmd, "conversation.delete", map[string]string{"id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("Conversation deleted: %s\n", args[0])
			return nil
		},
	}
}

func titleOf(c core.Conversation) string {
	if c.Title == "" {
		return "(untitled)"
	}
	return c.Title
}

func boundAccount(c core.Conversation) string {
	if !c.Bound {
		return "unbound"
	}
	return orDash(c.BoundAccount)
}

func printMessage(m core.Message) {
	fmt.Printf("[%s] %s", formatTime(m.CreatedAt), m.Role)
	if m.TaskID != "" {
		fmt.Printf(" (task %s)", m.TaskID)
	}
	fmt.Printf("\n%s\n\n", m.Content)
}
