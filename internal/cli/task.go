package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewTaskCmd создаёт группу команд для управления задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskAddCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskAssignCmd(clientFn, outputFn),
		newTaskSimpleCmd("start", "Start an assigned task", clientFn, outputFn, (*Client).StartTask),
		newTaskProgressCmd(clientFn, outputFn),
		newTaskCompleteCmd(clientFn, outputFn),
		newTaskFailCmd(clientFn, outputFn),
		newTaskSimpleCmd("cancel", "Cancel a task", clientFn, outputFn, (*Client).CancelTask),
	)

	return cmd
}

var taskHeaders = []string{"ID", "NAME", "PHASE", "PRIORITY", "PROGRESS", "OWNER", "STATUS"}

func taskRow(t TaskResponse) []string {
	owner := t.Owner
	if owner == "" {
		owner = "-"
	}
	return []string{
		t.ID, t.Name, t.Phase, t.Priority,
		strconv.Itoa(t.Progress) + "%", owner, colorize(t.Status),
	}
}

func printTask(out *Output, t *TaskResponse) {
	out.Print(taskHeaders, [][]string{taskRow(*t)}, t)
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListTasksOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			outputFn().Print(taskHeaders, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (pending, assigned, in_progress, blocked, ...)")
	cmd.Flags().StringVar(&opts.Phase, "phase", "", "Filter by phase")
	cmd.Flags().StringVar(&opts.WorkerID, "worker", "", "Filter by owner worker ID")

	return cmd
}

func newTaskAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add tasks from a JSON or YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := readSpecFile(file)
			if err != nil {
				return err
			}

			ids, err := clientFn().CreateTasks(specs)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Tasks added: %s", strings.Join(ids, ", ")))
			rows := make([][]string, len(ids))
			for i, id := range ids {
				rows[i] = []string{id}
			}
			out.Print([]string{"ID"}, rows, ids)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Task spec file (.json, .yaml, .yml), - for stdin")
	cmd.MarkFlagRequired("file")

	return cmd
}

// readSpecFile читает JSON или YAML и возвращает JSON для API.
// YAML файл с ключом tasks разворачивается в массив задач.
func readSpecFile(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = readAllStdin()
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if m, ok := doc.(map[string]any); ok {
			if tasks, ok := m["tasks"]; ok {
				doc = tasks
			}
		}
		return json.Marshal(doc)
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("parse %s: invalid JSON", path)
		}
		return data, nil
	}
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := clientFn().GetTask(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(t)
				return nil
			}

			deps := strings.Join(t.Dependencies, ", ")
			if deps == "" {
				deps = "-"
			}
			blockers := strings.Join(t.Blockers, ", ")
			if blockers == "" {
				blockers = "-"
			}
			out.Table([]string{"FIELD", "VALUE"}, [][]string{
				{"ID", t.ID},
				{"Name", t.Name},
				{"Phase", t.Phase},
				{"Priority", t.Priority},
				{"Complexity", t.Complexity},
				{"Estimate", strconv.FormatFloat(t.EstimatedHours, 'f', 1, 64) + "h"},
				{"Dependencies", deps},
				{"Ready", strconv.FormatBool(t.Ready)},
				{"Progress", strconv.Itoa(t.Progress) + "%"},
				{"Owner", t.Owner},
				{"Blockers", blockers},
				{"Status", colorize(t.Status)},
			})
			return nil
		},
	}
}

func newTaskAssignCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workerID string

	cmd := &cobra.Command{
		Use:   "assign TASK_ID",
		Short: "Assign a task to a worker (best match if --worker is omitted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := clientFn().AssignTask(args[0], workerID)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Task %s assigned to %s", t.ID, t.Owner))
			printTask(out, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&workerID, "worker", "", "Worker ID")

	return cmd
}

func newTaskSimpleCmd(
	use, short string,
	clientFn func() *Client, outputFn func() *Output,
	action func(*Client, string) (*TaskResponse, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TASK_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := action(clientFn(), args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Task %s is %s", t.ID, t.Status))
			printTask(out, t)
			return nil
		},
	}
}

func newTaskProgressCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "progress TASK_ID PERCENT",
		Short: "Report task progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress, err := strconv.Atoi(strings.TrimSuffix(args[1], "%"))
			if err != nil {
				return fmt.Errorf("invalid progress %q", args[1])
			}

			t, err := clientFn().ReportProgress(args[0], progress, note)
			if err != nil {
				return err
			}
			printTask(outputFn(), t)
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Checkpoint note")

	return cmd
}

func newTaskCompleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var metrics []string

	cmd := &cobra.Command{
		Use:   "complete TASK_ID",
		Short: "Complete a task (quality gate metrics via --metric)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseMetrics(metrics)
			if err != nil {
				return err
			}

			t, err := clientFn().CompleteTask(args[0], values)
			if err != nil {
				return err
			}

			out := outputFn()
			if t.Status == "completed" {
				out.Success(fmt.Sprintf("Task %s completed", t.ID))
			} else {
				out.Warn(fmt.Sprintf("Task %s is %s", t.ID, t.Status))
			}
			printTask(out, t)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&metrics, "metric", nil, "Gate metric as NAME=VALUE (repeatable)")

	return cmd
}

// parseMetrics разбирает NAME=VALUE.
func parseMetrics(kvs []string) (map[string]float64, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	metrics := make(map[string]float64, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid metric format %q, expected NAME=VALUE", kv)
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid metric value %q: %w", kv, err)
		}
		metrics[parts[0]] = v
	}
	return metrics, nil
}

func newTaskFailCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail TASK_ID",
		Short: "Mark a task as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := clientFn().FailTask(args[0], reason)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Warn(fmt.Sprintf("Task %s failed", t.ID))
			printTask(out, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason")

	return cmd
}
