package conflict

import (
	"strconv"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/steps"
)

// Действия шагов планов. Реализации — в actions.go.
const (
	ActionValidate       = "conflict.validate"
	ActionMergeApprove   = "merge.approve"
	ActionClearSignal    = "signal.clear"
	ActionReorder        = "graph.reorder"
	ActionVerifyAcyclic  = "graph.verify_acyclic"
	ActionForceParallel  = "graph.force_parallel"
	ActionReprioritize   = "graph.reprioritize"
	ActionRebalance      = "pool.rebalance"
	ActionDefer          = "pool.defer"
	ActionVerifyWorkload = "pool.verify_workload"
	ActionQuarantine     = "task.quarantine"
)

// stepTemplate — шаг плана до нумерации.
type stepTemplate struct {
	typ       domain.StepType
	action    string
	desc      string
	automated bool
	duration  time.Duration
	rollback  bool
	success   string
	failure   string
	config    map[string]any
}

func validateStep() stepTemplate {
	return stepTemplate{
		typ:       domain.StepValidate,
		action:    ActionValidate,
		desc:      "Check that the conflict is still active and its tasks exist",
		automated: true,
		duration:  5 * time.Second,
		success:   "conflict active, affected tasks present",
		failure:   "conflict closed or tasks removed",
	}
}

func notifyStep(message string) stepTemplate {
	return stepTemplate{
		typ:       domain.StepNotify,
		action:    steps.ActionNotify,
		desc:      "Notify the team",
		automated: true,
		duration:  10 * time.Second,
		success:   "webhook accepted the message",
		failure:   "webhook returned an error",
		config:    map[string]any{"message": message},
	}
}

func operatorStep(typ domain.StepType, desc string, rollbackable bool) stepTemplate {
	return stepTemplate{
		typ:      typ,
		desc:     desc,
		duration: time.Hour,
		rollback: rollbackable,
		success:  "operator confirmed",
		failure:  "operator rejected or timed out",
	}
}

func autoStep(typ domain.StepType, action, desc string, rollbackable bool, success, failure string) stepTemplate {
	return stepTemplate{
		typ:       typ,
		action:    action,
		desc:      desc,
		automated: true,
		duration:  30 * time.Second,
		rollback:  rollbackable,
		success:   success,
		failure:   failure,
	}
}

const (
	msgHeader = "[{{ .conflict.Severity }}] {{ .conflict.Title }}"
	msgTasks  = "{{ if .conflict.AffectedTasks }} (tasks: {{ join \", \" .conflict.AffectedTasks }}){{ end }}"
)

// planTemplates — шаги и риски по стратегиям.
var planTemplates = map[domain.Strategy]struct {
	steps []stepTemplate
	risks []string
}{
	domain.StrategyAutomaticMerge: {
		steps: []stepTemplate{
			validateStep(),
			autoStep(domain.StepExecute, ActionMergeApprove, "Approve automatic merge of non-overlapping changes", true,
				"VCS reports the merge as automatic", "merge signal no longer auto-mergeable"),
			notifyStep(msgHeader + ": merged automatically"),
		},
		risks: []string{"semantic conflict not visible in the diff"},
	},
	domain.StrategyManualMerge: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": manual merge required" + msgTasks),
			operatorStep(domain.StepExecute, "Resolve the merge conflict by hand and push the result", true),
		},
		risks: []string{"blocks dependent work until merged"},
	},
	domain.StrategyRollback: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": rolling back" + msgTasks),
			operatorStep(domain.StepRollback, "Roll back the offending change", false),
		},
		risks: []string{"loses work done since the change", "dependent tasks may need rework"},
	},
	domain.StrategyEscalation: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": escalated" + msgTasks),
			operatorStep(domain.StepExecute, "Decide on a resolution and confirm when applied", false),
		},
		risks: []string{"resolution time depends on operator availability"},
	},
	domain.StrategyReorderDependencies: {
		steps: []stepTemplate{
			validateStep(),
			autoStep(domain.StepExecute, ActionReorder, "Remove the dependency that closes the cycle", true,
				"closing edge removed", "cycle no longer present in the graph"),
			autoStep(domain.StepVerify, ActionVerifyAcyclic, "Verify the affected tasks are no longer in a cycle", false,
				"no cycle through affected tasks", "cycle still present"),
		},
		risks: []string{"removed dependency may have been real"},
	},
	domain.StrategyForceParallel: {
		steps: []stepTemplate{
			validateStep(),
			autoStep(domain.StepExecute, ActionForceParallel, "Mark affected tasks as parallelizable", true,
				"tasks marked parallelizable", "tasks already terminal"),
			notifyStep(msgHeader + ": tasks forced to run in parallel" + msgTasks),
		},
		risks: []string{"hidden ordering assumptions between tasks"},
	},
	domain.StrategyManualIntervention: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": manual intervention required" + msgTasks),
			operatorStep(domain.StepExecute, "Fix the problem manually and confirm", false),
		},
		risks: []string{"resolution time depends on operator availability"},
	},
	domain.StrategyRebalanceWorkload: {
		steps: []stepTemplate{
			validateStep(),
			autoStep(domain.StepExecute, ActionRebalance, "Move or defer queued tasks off overloaded workers", true,
				"at least one task moved", "no worker below the target workload"),
			autoStep(domain.StepVerify, ActionVerifyWorkload, "Verify affected workers are below the contention threshold", false,
				"workload below threshold", "workers still saturated"),
		},
		risks: []string{"context switch for moved tasks"},
	},
	domain.StrategyDeferTasks: {
		steps: []stepTemplate{
			validateStep(),
			autoStep(domain.StepExecute, ActionDefer, "Return the lowest-priority queued task of each worker to the backlog", true,
				"tasks deferred", "nothing to defer"),
			autoStep(domain.StepVerify, ActionVerifyWorkload, "Verify affected workers are below the contention threshold", false,
				"workload below threshold", "workers still saturated"),
		},
		risks: []string{"deferred tasks slip"},
	},
	domain.StrategySyncEnvironment: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": syncing {{ .conflict.Metadata.environment }} ({{ join \", \" .mismatches }})"),
			autoStep(domain.StepExecute, ActionClearSignal, "Clear the mismatch; the next report re-checks the environment", false,
				"mismatch cleared", "signal already gone"),
		},
		risks: []string{"sync may overwrite manual environment fixes"},
	},
	domain.StrategyReprioritize: {
		steps: []stepTemplate{
			validateStep(),
			autoStep(domain.StepExecute, ActionReprioritize, "Raise the priority of the overrunning task and its waiting dependents", true,
				"priorities raised", "tasks already terminal"),
			notifyStep(msgHeader + ": reprioritized" + msgTasks),
		},
		risks: []string{"other work is pushed back"},
	},
	domain.StrategyRerunChecks: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": rerunning checks" + msgTasks),
			autoStep(domain.StepExecute, ActionClearSignal, "Drop the failing gate result; the rerun reports a fresh one", false,
				"stale result cleared", "signal already gone"),
		},
		risks: []string{"flaky checks may pass without a fix"},
	},
	domain.StrategyQuarantine: {
		steps: []stepTemplate{
			validateStep(),
			notifyStep(msgHeader + ": quarantining affected work" + msgTasks),
			autoStep(domain.StepExecute, ActionQuarantine, "Hold in-flight tasks touched by the finding under a quarantine blocker", true,
				"tasks quarantined", "no task could be held"),
			operatorStep(domain.StepVerify, "Security review of the finding and the fix", false),
		},
		risks: []string{"paused work delays the schedule"},
	},
}

// BuildPlan строит план разрешения конфликта выбранной стратегией.
func BuildPlan(c *domain.Conflict, s domain.Strategy, alternatives []domain.Strategy) *domain.Resolution {
	tmpl := planTemplates[s]

	res := &domain.Resolution{
		Strategy:     s,
		Steps:        make([]domain.ResolutionStep, 0, len(tmpl.steps)),
		Confidence:   Confidence(c, s),
		Risks:        append([]string(nil), tmpl.risks...),
		Alternatives: append([]domain.Strategy(nil), alternatives...),
	}

	for i, st := range tmpl.steps {
		step := domain.ResolutionStep{
			ID:                strconv.Itoa(i + 1),
			Type:              st.typ,
			Action:            st.action,
			Description:       st.desc,
			Automated:         st.automated,
			EstimatedDuration: st.duration,
			Rollbackable:      st.rollback,
			SuccessCriteria:   st.success,
			FailureCriteria:   st.failure,
			State:             domain.StepStatePending,
		}
		if st.config != nil {
			step.Config = make(map[string]any, len(st.config))
			for k, v := range st.config {
				step.Config[k] = v
			}
		}
		res.EstimatedTime += st.duration
		res.Steps = append(res.Steps, step)
	}

	return res
}
