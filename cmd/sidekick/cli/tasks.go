package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/grpcapi"
	"github.com/eichemberger/aws-sidekick/internal/toolbox"
	"github.com/spf13/cobra"
)

// RegisterTaskCommands adds task commands.
func RegisterTaskCommands(root *cobra.Command) {
	taskCmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"tasks"},
		Short:   "Run and inspect tasks",
	}

	taskCmd.AddCommand(newTaskRunCmd())
	taskCmd.AddCommand(newTaskListCmd())
	taskCmd.AddCommand(newTaskShowCmd())
	taskCmd.AddCommand(newTaskWaitCmd())
	taskCmd.AddCommand(newTaskToolsCmd())

	root.AddCommand(taskCmd)
}

func newTaskRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <description...>",
		Short: "Submit a task under the active account (or --account)",
		Example: `  sidekick task run list s3 buckets
  sidekick task run --account staging --wait whoami`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, _ := cmd.Flags().GetString("account")
			wait, _ := cmd.Flags().GetBool("wait")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			var rec core.TaskRecord
			err := call(cmd, "task.submit", grpcapi.SubmitTaskRequest{
				Description: strings.Join(args, " "),
				Alias:       alias,
			}, &rec)
			if err != nil {
				return err
			}

			if !wait {
				if jsonOutput(cmd) {
					return printJSON(rec)
				}
				fmt.Printf("Task submitted: %s (account %s)\n", rec.ID, rec.AccountAlias)
				fmt.Printf("Follow it with: sidekick task wait %s\n", rec.ID)
				return nil
			}
			return waitAndPrint(cmd, rec.ID, timeout)
		},
	}
	cmd.Flags().String("account", "", "Run under this account instead of the active one")
	cmd.Flags().Bool("wait", false, "Wait for the task to finish and print its result")
	cmd.Flags().Duration("timeout", 10*time.Minute, "How long --wait waits")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			var tasks []core.TaskRecord
			if err := call(cmd, "task.list", map[string]int{"limit": limit, "offset": offset}, &tasks); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACCOUNT\tSTATUS\tCREATED\tDURATION\tDESCRIPTION")
			for _, t := range tasks {
				dur := "-"
				if t.Duration != nil {
					dur = t.Duration.Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.AccountAlias, t.Status, formatTime(t.CreatedAt), dur, truncate(t.Description, 40))
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum tasks to show")
	cmd.Flags().Int("offset", 0, "Tasks to skip")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec core.TaskRecord
			if err := call(cmd, "task.get", map[string]string{"id": args[0]}, &rec); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(rec)
			}
			printTask(&rec)
			return nil
		},
	}
}

func newTaskWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Wait for a task to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return waitAndPrint(cmd, args[0], timeout)
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Minute, "How long to wait")
	return cmd
}

func newTaskToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools a task description can select",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tools []toolbox.ToolMeta
			if err := call(cmd, "task.tools", nil, &tools); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(tools)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSERVICE\tKEYWORDS\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Service, strings.Join(t.Keywords, ","), t.Description)
			}
			w.Flush()
			return nil
		},
	}
}

func waitAndPrint(cmd *cobra.Command, id string, timeout time.Duration) error {
	var rec core.TaskRecord
	if err := callWithTimeout(cmd, timeout, "task.wait", map[string]string{"id": id}, &rec); err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(rec)
	}
	printTask(&rec)
	if rec.Status == core.TaskFailed {
		return fmt.Errorf("task %s failed", rec.ID)
	}
	return nil
}

func printTask(t *core.TaskRecord) {
	fmt.Printf("Task:        %s\n", t.ID)
	fmt.Printf("Account:     %s\n", t.AccountAlias)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Description: %s\n", t.Description)
	fmt.Printf("Created:     %s\n", formatTime(t.CreatedAt))
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", formatTime(*t.CompletedAt))
	}
	if t.Duration != nil {
		fmt.Printf("Duration:    %s\n", t.Duration.Round(time.Millisecond))
	}
	if t.ConversationID != "" {
		fmt.Printf("Chat:        %s\n", t.ConversationID)
	}
	if t.Error != nil {
		fmt.Printf("Error:       %s\n", *t.Error)
	}
	if t.Result != nil {
		fmt.Printf("\n%s\n", *t.Result)
	}
}
