package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewDashboardCmd создаёт команду вывода дашборда.
func NewDashboardCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the orchestration dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := clientFn().Dashboard()
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(d)
				return nil
			}
			printDashboard(out, d)
			return nil
		},
	}
}

func printDashboard(out *Output, d *DashboardResponse) {
	out.Section("Tasks")
	statuses := sortedKeys(d.Tasks.ByStatus)
	rows := make([][]string, 0, len(statuses)+1)
	for _, s := range statuses {
		rows = append(rows, []string{strconv.Itoa(d.Tasks.ByStatus[s]), colorize(s)})
	}
	rows = append(rows, []string{strconv.Itoa(d.Tasks.Total), "total"})
	out.Table([]string{"COUNT", "STATUS"}, rows)

	out.Section("Phases")
	phases := sortedKeys(d.PhaseProgress)
	rows = make([][]string, len(phases))
	for i, p := range phases {
		rows[i] = []string{p, strconv.FormatFloat(d.PhaseProgress[p], 'f', 0, 64) + "%"}
	}
	out.Table([]string{"PHASE", "PROGRESS"}, rows)

	out.Section("Workers")
	fmt.Fprintf(out.w, "%d workers, utilization %.0f%%, parallel efficiency %.0f%%\n",
		d.Workers.Total, d.Workers.Utilization*100, d.ParallelEfficiency*100)

	out.Section("Schedule")
	path := strings.Join(d.CriticalPath.Tasks, " → ")
	if path == "" {
		path = "-"
	}
	fmt.Fprintf(out.w, "critical path: %s (%.1fh)\n", path, d.CriticalPath.Hours)
	fmt.Fprintf(out.w, "remaining: %.1fh", d.RemainingHours)
	if d.ProjectedCompletion != "" {
		fmt.Fprintf(out.w, ", projected completion %s", d.ProjectedCompletion)
	}
	fmt.Fprintln(out.w)

	if len(d.ActiveConflicts) > 0 {
		out.Section(color.RedString("Conflicts (%d)", len(d.ActiveConflicts)))
		printConflicts(out, d.ActiveConflicts)
	}
	if len(d.PendingActions) > 0 {
		out.Warn(fmt.Sprintf("%d steps wait for an operator, see 'conflict actions'", len(d.PendingActions)))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewReportCmd создаёт команду вывода отчёта.
func NewReportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the performance report with recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			if out.jsonMode {
				report, err := clientFn().Report()
				if err != nil {
					return err
				}
				out.JSON(report)
				return nil
			}

			text, err := clientFn().ReportText()
			if err != nil {
				return err
			}
			out.Text(text)
			return nil
		},
	}
}

// NewSignalCmd создаёт команду отправки сигнала внешней системы.
func NewSignalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var data string

	cmd := &cobra.Command{
		Use:   "signal KIND",
		Short: "Send an external signal (merge, gate, performance, security, interface, environment)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			switch {
			case data != "" && file != "":
				return fmt.Errorf("use either --data or --file")
			case data != "":
				payload = json.RawMessage(data)
			case file != "":
				p, err := readSpecFile(file)
				if err != nil {
					return err
				}
				payload = p
			default:
				return fmt.Errorf("signal payload is required (--data or --file)")
			}

			if err := clientFn().PostSignal(args[0], payload); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Signal %s accepted", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Signal payload as JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Signal payload file (.json, .yaml), - for stdin")

	return cmd
}

// NewCycleCmd создаёт команду запуска цикла оркестрации.
func NewCycleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one orchestration cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().RunCycle()
			if err != nil {
				return err
			}

			out := outputFn()
			out.Print(
				[]string{"ASSIGNED", "UNASSIGNED", "DETECTED", "BLOCKED", "RESOLVED", "MOVED"},
				[][]string{{
					strconv.Itoa(res.Assigned), strconv.Itoa(res.Unassigned),
					strconv.Itoa(res.Detected), strconv.Itoa(res.Blocked),
					strconv.Itoa(res.Resolved), strconv.Itoa(res.Moved),
				}},
				res,
			)
			for _, e := range res.Errors {
				out.Warn(e)
			}
			return nil
		},
	}
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}
