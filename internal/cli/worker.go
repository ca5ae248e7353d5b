package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewWorkerCmd создаёт группу команд для управления исполнителями.
func NewWorkerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage workers",
	}

	cmd.AddCommand(
		newWorkerListCmd(clientFn, outputFn),
		newWorkerRegisterCmd(clientFn, outputFn),
		newWorkerStatusCmd(clientFn, outputFn),
	)

	return cmd
}

var workerHeaders = []string{"ID", "NAME", "TYPE", "TASKS", "WORKLOAD", "STATUS"}

func workerRow(w WorkerResponse) []string {
	return []string{
		w.ID, w.Name, w.Type,
		fmt.Sprintf("%d/%d", len(w.CurrentTasks), w.MaxConcurrentTasks),
		strconv.FormatFloat(w.Workload, 'f', 0, 64) + "%",
		colorize(w.Status),
	}
}

func newWorkerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, err := clientFn().ListWorkers(status)
			if err != nil {
				return err
			}

			rows := make([][]string, len(workers))
			for i, w := range workers {
				rows[i] = workerRow(w)
			}
			outputFn().Print(workerHeaders, rows, workers)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (available, busy, overloaded, offline, maintenance)")

	return cmd
}

func newWorkerRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req RegisterWorkerRequest
	var capabilities string

	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if capabilities != "" {
				req.Capabilities = strings.Split(capabilities, ",")
			}

			w, err := clientFn().RegisterWorker(req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Worker registered: %s", w.ID))
			out.Print(workerHeaders, [][]string{workerRow(*w)}, w)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Worker ID (generated if omitted)")
	cmd.Flags().StringVar(&req.Type, "type", "", "Worker type (frontend, backend, devops, qa, ...)")
	cmd.Flags().StringVar(&capabilities, "capabilities", "", "Comma-separated capabilities")
	cmd.Flags().IntVar(&req.MaxConcurrentTasks, "max-tasks", 3, "Maximum concurrent tasks")

	return cmd
}

func newWorkerStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status WORKER_ID STATUS",
		Short: "Set worker status (available, offline, maintenance)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := clientFn().SetWorkerStatus(args[0], args[1])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Worker %s is %s", w.ID, w.Status))
			out.Print(workerHeaders, [][]string{workerRow(*w)}, w)
			return nil
		},
	}
}
