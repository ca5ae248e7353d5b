package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewConflictCmd создаёт группу команд для работы с конфликтами.
func NewConflictCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conflict",
		Aliases: []string{"conflicts"},
		Short:   "Inspect and resolve conflicts",
	}

	cmd.AddCommand(
		newConflictListCmd(clientFn, outputFn),
		newConflictHistoryCmd(clientFn, outputFn),
		newConflictShowCmd(clientFn, outputFn),
		newConflictPlanCmd(clientFn, outputFn),
		newConflictResolveCmd(clientFn, outputFn),
		newConflictActionsCmd(clientFn, outputFn),
		newConflictStepCmd("approve", true, clientFn, outputFn),
		newConflictStepCmd("reject", false, clientFn, outputFn),
	)

	return cmd
}

var conflictHeaders = []string{"ID", "TYPE", "TASKS", "ATTEMPTS", "AUTO", "SEVERITY"}

func conflictRow(c ConflictResponse) []string {
	return []string{
		c.ID, c.Type, strings.Join(c.AffectedTasks, ","),
		strconv.Itoa(c.Attempts), strconv.FormatBool(c.AutoResolvable),
		colorize(c.Severity),
	}
}

func printConflicts(out *Output, conflicts []ConflictResponse) {
	rows := make([][]string, len(conflicts))
	for i, c := range conflicts {
		rows[i] = conflictRow(c)
	}
	out.Print(conflictHeaders, rows, conflicts)
}

func newConflictListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			conflicts, err := clientFn().ListConflicts(typ)
			if err != nil {
				return err
			}
			printConflicts(outputFn(), conflicts)
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "Filter by conflict type")

	return cmd
}

func newConflictHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List resolved conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			conflicts, err := clientFn().ListConflictHistory(limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(conflicts))
			for i, c := range conflicts {
				strategy := "-"
				if c.Resolution != nil {
					strategy = c.Resolution.Strategy
				}
				rows[i] = []string{c.ID, c.Type, strategy, c.ResolvedAt}
			}
			outputFn().Print([]string{"ID", "TYPE", "STRATEGY", "RESOLVED"}, rows, conflicts)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newConflictShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show CONFLICT_ID",
		Short: "Show conflict details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFn().GetConflict(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(c)
				return nil
			}
			printConflicts(out, []ConflictResponse{*c})
			fmt.Fprintln(out.w)
			fmt.Fprintln(out.w, c.Title)
			if c.Resolution != nil {
				out.Section("Resolution")
				printSteps(out, c.Resolution)
			}
			return nil
		},
	}
}

func printSteps(out *Output, plan *ResolutionResponse) {
	rows := make([][]string, len(plan.Steps))
	for i, s := range plan.Steps {
		mode := "auto"
		if !s.Automated {
			mode = "operator"
		}
		rows[i] = []string{s.ID, s.Action, mode, s.Description, s.State}
	}
	out.Print([]string{"STEP", "ACTION", "MODE", "DESCRIPTION", "STATE"}, rows, plan)
}

func newConflictPlanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "plan CONFLICT_ID",
		Short: "Show the resolution plan without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := clientFn().PlanConflict(args[0], strategy)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Section(fmt.Sprintf("Strategy %s (confidence %.0f%%)", plan.Strategy, plan.Confidence*100))
			printSteps(out, plan)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Override the strategy")

	return cmd
}

func newConflictResolveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req ResolveRequest
	var auto bool

	cmd := &cobra.Command{
		Use:   "resolve CONFLICT_ID",
		Short: "Resolve a conflict (manual steps wait for approve/reject)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if auto {
				req.Mode = "auto"
			}

			res, err := clientFn().ResolveConflict(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(res)
				return nil
			}
			if auto {
				out.Success(fmt.Sprintf("Conflict %s resolved", args[0]))
				return nil
			}

			var plan ResolutionResponse
			if err := json.Unmarshal(res, &plan); err != nil {
				return fmt.Errorf("failed to decode plan: %w", err)
			}
			out.Success(fmt.Sprintf("Resolution of %s started with %s", args[0], plan.Strategy))
			printSteps(out, &plan)
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Resolve synchronously, fail if an operator step is needed")
	cmd.Flags().StringVar(&req.Strategy, "strategy", "", "Override the strategy")

	return cmd
}

func newConflictActionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List steps waiting for an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := clientFn().ListActions()
			if err != nil {
				return err
			}

			rows := make([][]string, len(actions))
			for i, a := range actions {
				step := a.StepID
				if step == "" {
					step = "-"
				}
				rows[i] = []string{a.ConflictID, a.ConflictType, step, a.Description, a.Since}
			}
			outputFn().Print([]string{"CONFLICT", "TYPE", "STEP", "DESCRIPTION", "SINCE"}, rows, actions)
			return nil
		},
	}
}

func newConflictStepCmd(use string, success bool, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   use + " CONFLICT_ID STEP_ID",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an operator step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().CompleteStep(args[0], args[1], success, note); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Step %s of %s: %sd", args[1], args[0], use))
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Operator note")

	return cmd
}
