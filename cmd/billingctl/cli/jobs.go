package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/jobs"
)

// JobsClient enqueues and inspects background tasks.
type JobsClient interface {
	Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Enqueue submits task with the default retry policy.
func (c *JobsCLI) Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

type triggerOptions struct {
	asOf     string
	dryRun   bool
	period   string
	concepts string
	dueAt    string
	blocks   string
	units    string
	occupied bool
	noDebt   bool
}

func newJobsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Queue and inspect background jobs",
	}

	var opts triggerOptions
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a billing task",
		Long: fmt.Sprintf(`Enqueue one of:
  %s   interest accrual (--as-of, --dry-run)
  %s  invoice generation (--period, --concepts, --due-at, --blocks, --units)`,
			jobs.TaskInterestAccrual, jobs.TaskInvoiceGeneration),
		Example: `  billingctl jobs trigger billing:interest:accrue --as-of 2025-03-17
  billingctl jobs trigger billing:invoices:generate --period 2025-03 --concepts 1,2 --blocks A`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := buildTask(args[0], opts)
			if err != nil {
				return err
			}
			cfg, _, err := env.config()
			if err != nil {
				return err
			}
			client, err := env.OpenJobs(cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			info, err := client.Enqueue(cmd.Context(), task)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", task.Type(), info.ID, info.Queue)
			return nil
		},
	}
	flags := trigger.Flags()
	flags.StringVar(&opts.asOf, "as-of", "", "Accrual date (YYYY-MM-DD, default: run date)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Accrual without persisting")
	flags.StringVar(&opts.period, "period", "", "Billing period YYYY-MM")
	flags.StringVar(&opts.concepts, "concepts", "", "Comma separated concept ids")
	flags.StringVar(&opts.dueAt, "due-at", "", "Due date (YYYY-MM-DD)")
	flags.StringVar(&opts.blocks, "blocks", "", "Comma separated blocks")
	flags.StringVar(&opts.units, "units", "", "Comma separated unit ids")
	flags.BoolVar(&opts.occupied, "occupied-only", false, "Only occupied units")
	flags.BoolVar(&opts.noDebt, "exclude-delinquent", false, "Skip units with overdue balances")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := env.config()
			if err != nil {
				return err
			}
			client, err := env.OpenJobs(cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			stats, err := client.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return nil
		},
	}

	cmd.AddCommand(trigger, inspect)
	return cmd
}

func buildTask(name string, opts triggerOptions) (*asynq.Task, error) {
	switch name {
	case jobs.TaskInterestAccrual:
		asOf, err := parseDateFlag(opts.asOf, timeZero)
		if err != nil {
			return nil, err
		}
		return jobs.NewInterestAccrualTask(asOf, opts.dryRun)
	case jobs.TaskInvoiceGeneration:
		concepts, err := parseIDs(opts.concepts)
		if err != nil {
			return nil, fmt.Errorf("--concepts: %w", err)
		}
		units, err := parseIDs(opts.units)
		if err != nil {
			return nil, fmt.Errorf("--units: %w", err)
		}
		if opts.dueAt != "" {
			if _, err := parseDateFlag(opts.dueAt, timeZero); err != nil {
				return nil, err
			}
		}
		return jobs.NewInvoiceGenerationTask(jobs.InvoiceGenerationPayload{
			ConceptIDs: concepts,
			Period:     opts.period,
			DueAt:      opts.dueAt,
			Filter: billing.GenerateFilter{
				Blocks:            splitCSV(opts.blocks),
				OccupiedOnly:      opts.occupied,
				ExcludeDelinquent: opts.noDebt,
				UnitIDs:           units,
			},
		})
	default:
		return nil, fmt.Errorf("jobs: unsupported task %s", name)
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range splitCSV(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
