package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Work the task queue",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE:  runTasksList,
}

var (
	listStatus   string
	listCategory string
	listQuery    string
	listLimit    int
	listJSON     bool
)

var tasksShowCmd = &cobra.Command{
	Use:   "show <task_id>",
	Short: "Show a task with its full history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var tasksApproveCmd = &cobra.Command{
	Use:   "approve <task_id>",
	Short: "Approve a pending task, triggering execution",
	Args:  cobra.ExactArgs(1),
	RunE:  statusCommand(types.StatusApproved),
}

var tasksRejectCmd = &cobra.Command{
	Use:   "reject <task_id>",
	Short: "Reject a pending task",
	Args:  cobra.ExactArgs(1),
	RunE:  statusCommand(types.StatusRejected),
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task_id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  statusCommand(types.StatusCancelled),
}

var taskNote string

var tasksNoteCmd = &cobra.Command{
	Use:   "note <task_id> <text>",
	Short: "Add a note to a task's history",
	Args:  cobra.ExactArgs(2),
	RunE:  runTasksNote,
}

var tasksExportCmd = &cobra.Command{
	Use:   "export <task_id>",
	Short: "Download a task evidence bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksExport,
}

var exportOut string

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	tasksListCmd.Flags().StringVar(&listCategory, "category", "", "filter by category")
	tasksListCmd.Flags().StringVar(&listQuery, "q", "", "free-text filter")
	tasksListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum rows")
	tasksListCmd.Flags().BoolVar(&listJSON, "json", false, "print raw JSON response")

	tasksApproveCmd.Flags().StringVar(&taskNote, "note", "", "note recorded with the decision")
	tasksRejectCmd.Flags().StringVar(&taskNote, "note", "", "note recorded with the decision")
	tasksCancelCmd.Flags().StringVar(&taskNote, "note", "", "note recorded with the decision")

	tasksExportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default task-<id>.zip)")

	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksApproveCmd,
		tasksRejectCmd, tasksCancelCmd, tasksNoteCmd, tasksExportCmd)
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	q := url.Values{}
	if listStatus != "" {
		q.Set("status", listStatus)
	}
	if listCategory != "" {
		q.Set("category", listCategory)
	}
	if listQuery != "" {
		q.Set("q", listQuery)
	}
	if listLimit > 0 {
		q.Set("limit", strconv.Itoa(listLimit))
	}
	path := "/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, status, err := apiDo(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(body, status)
	}
	if listJSON {
		_, _ = cmd.OutOrStdout().Write(body)
		return nil
	}

	var payload struct {
		Tasks []types.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tSUBTYPE\tPRIORITY\tCREATED")
	for _, t := range payload.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.Category, t.Subtype, t.Priority, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo(http.MethodGet, "/v1/tasks/"+args[0], nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(body, status)
	}

	var indented json.RawMessage = body
	pretty, err := json.MarshalIndent(indented, "", "  ")
	if err != nil {
		_, _ = cmd.OutOrStdout().Write(body)
		return nil
	}
	_, _ = cmd.OutOrStdout().Write(append(pretty, '\n'))
	return nil
}

// statusCommand builds the RunE for the approve, reject and cancel commands,
// which differ only in the requested status.
func statusCommand(to types.TaskStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"status": to}
		if taskNote != "" {
			req["note"] = taskNote
		}
		body, status, err := apiDo(http.MethodPatch, "/v1/tasks/"+args[0], req)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return apiError(body, status)
		}

		var t types.Task
		if err := json.Unmarshal(body, &t); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task_id=%s status=%s\n", t.ID, t.Status)
		return nil
	}
}

func runTasksNote(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo(http.MethodPatch, "/v1/tasks/"+args[0], map[string]any{"note": args[1]})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(body, status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "task_id=%s note added\n", args[0])
	return nil
}

func runTasksExport(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo(http.MethodGet, "/v1/tasks/"+args[0]+"/export", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(body, status)
	}

	out := exportOut
	if out == "" {
		out = "task-" + args[0] + ".zip"
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("output dir: %w", err)
		}
	}
	if err := os.WriteFile(out, body, 0o600); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}
