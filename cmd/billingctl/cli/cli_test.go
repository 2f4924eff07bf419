package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/backresidences/billing/internal/app"
	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/shared"
	_ "github.com/backresidences/billing/internal/testing/guard"
	"github.com/backresidences/billing/jobs"
)

type fakeMigrator struct {
	ups, downs []int
	version    uint
	closed     bool
}

func (m *fakeMigrator) Up() error {
	m.ups = append(m.ups, 1)
	m.version = 1
	return nil
}

func (m *fakeMigrator) Down(steps int) error {
	m.downs = append(m.downs, steps)
	m.version = 0
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) { return m.version, false, nil }
func (m *fakeMigrator) Close() error                 { m.closed = true; return nil }

type fakeAccruer struct {
	in     billing.AccrualInput
	result billing.AccrualResult
}

func (f *fakeAccruer) AccrueInterest(_ context.Context, in billing.AccrualInput) (billing.AccrualResult, error) {
	f.in = in
	f.result.AsOf = in.AsOf
	f.result.DryRun = in.DryRun
	return f.result, nil
}

type fakeJobs struct {
	tasks []*asynq.Task
}

func (f *fakeJobs) Enqueue(_ context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

func (f *fakeJobs) InspectQueue(context.Context) (QueueStats, error) {
	return QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, nil
}

func (f *fakeJobs) Close() error { return nil }

type fakePermissions struct {
	granted map[int64][]string
}

func (f *fakePermissions) Grant(_ context.Context, userID int64, perms ...string) error {
	f.granted[userID] = append(f.granted[userID], perms...)
	return nil
}

func (f *fakePermissions) Revoke(_ context.Context, userID int64, perms ...string) error {
	f.granted[userID] = nil
	return nil
}

func (f *fakePermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return f.granted[userID], nil
}

type harness struct {
	env      *Env
	out      *bytes.Buffer
	migrator *fakeMigrator
	accruer  *fakeAccruer
	jobs     *fakeJobs
	perms    *fakePermissions
	released int
}

func newHarness() *harness {
	h := &harness{
		out:      new(bytes.Buffer),
		migrator: &fakeMigrator{},
		accruer:  &fakeAccruer{result: billing.AccrualResult{InterestDelta: decimal.Zero}},
		jobs:     &fakeJobs{},
		perms:    &fakePermissions{granted: map[int64][]string{}},
	}
	h.env = &Env{
		Out:    h.out,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC) },
		LoadConfig: func() (*app.Config, error) {
			return &app.Config{RedisAddr: "127.0.0.1:0"}, nil
		},
		OpenMigrator: func(*app.Config, *slog.Logger) (Migrator, error) { return h.migrator, nil },
		OpenAccruer: func(context.Context, *app.Config, *slog.Logger) (InterestAccruer, func(), error) {
			return h.accruer, func() { h.released++ }, nil
		},
		OpenJobs: func(*app.Config) (JobsClient, error) { return h.jobs, nil },
		OpenPermissions: func(context.Context, *app.Config) (Permissions, func(), error) {
			return h.perms, func() { h.released++ }, nil
		},
	}
	return h
}

func (h *harness) run(args ...string) error {
	root := NewRootCommand(h.env)
	root.SetArgs(args)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func TestMigrateCommands(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("migrate", "up"))
	require.Len(t, h.migrator.ups, 1)
	require.True(t, h.migrator.closed)
	require.Contains(t, h.out.String(), "schema version 1")

	require.NoError(t, h.run("migrate", "down", "--steps", "2"))
	require.Equal(t, []int{2}, h.migrator.downs)
}

func TestInterestAccrueDefaultsToToday(t *testing.T) {
	h := newHarness()
	h.accruer.result.Updated = 1
	h.accruer.result.InterestDelta = decimal.NewFromInt(3000)
	h.accruer.result.Changes = []billing.InterestChange{{
		Number: "FAC-2025-00001", DaysOverdue: 30,
		Previous: decimal.Zero, Current: decimal.NewFromInt(3000),
	}}

	require.NoError(t, h.run("interest", "accrue"))
	require.Equal(t, "2025-03-17", h.accruer.in.AsOf.Format(dateLayout))
	require.Equal(t, shared.SystemCaller, h.accruer.in.Caller)
	require.False(t, h.accruer.in.DryRun)
	require.Equal(t, 1, h.released)

	out := h.out.String()
	require.Contains(t, out, "interest accrual applied as of 2025-03-17")
	require.Contains(t, out, "interest delta: 3000.00")
	require.Contains(t, out, "FAC-2025-00001  30 days  0.00 -> 3000.00")
}

func TestInterestAccrueFlags(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("interest", "accrue", "--as-of", "2025-04-01", "--dry-run", "--json", "--actor", "7"))
	require.True(t, h.accruer.in.DryRun)
	require.Equal(t, int64(7), h.accruer.in.Caller.UserID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &decoded))
	require.Equal(t, true, decoded["dry_run"])

	require.Error(t, newHarness().run("interest", "accrue", "--as-of", "01/04/2025"))
}

func TestInterestAccrueReportsItemFailures(t *testing.T) {
	h := newHarness()
	h.accruer.result.Errors = []billing.ItemError{{InvoiceID: 4, Message: "locked"}}
	err := h.run("interest", "accrue")
	var partial *billing.PartialBatchError
	require.True(t, errors.As(err, &partial))
	require.Contains(t, h.out.String(), "invoice 4 failed: locked")
}

func TestJobsTriggerBuildsTasks(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("jobs", "trigger", jobs.TaskInterestAccrual, "--as-of", "2025-03-17"))
	require.NoError(t, h.run("jobs", "trigger", jobs.TaskInvoiceGeneration,
		"--period", "2025-03", "--concepts", "1, 2", "--blocks", "A,B", "--units", "5", "--occupied-only"))
	require.Len(t, h.jobs.tasks, 2)

	var accrual jobs.InterestAccrualPayload
	require.NoError(t, json.Unmarshal(h.jobs.tasks[0].Payload(), &accrual))
	require.Equal(t, "2025-03-17", accrual.AsOf)

	var gen jobs.InvoiceGenerationPayload
	require.NoError(t, json.Unmarshal(h.jobs.tasks[1].Payload(), &gen))
	require.Equal(t, []int64{1, 2}, gen.ConceptIDs)
	require.Equal(t, []string{"A", "B"}, gen.Filter.Blocks)
	require.Equal(t, []int64{5}, gen.Filter.UnitIDs)
	require.True(t, gen.Filter.OccupiedOnly)
	require.Contains(t, h.out.String(), "enqueued billing:invoices:generate id=task-1")
}

func TestJobsTriggerRejectsBadInput(t *testing.T) {
	h := newHarness()
	require.Error(t, h.run("jobs", "trigger", "mail:send"))
	require.Error(t, h.run("jobs", "trigger", jobs.TaskInvoiceGeneration, "--period", "2025-03", "--concepts", "x"))
	require.Error(t, h.run("jobs", "trigger", jobs.TaskInvoiceGeneration, "--period", "2025-03"))
	require.Empty(t, h.jobs.tasks)
}

func TestJobsInspect(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("jobs", "inspect"))
	require.Contains(t, h.out.String(), "queue=default pending=2 active=0 scheduled=0 retry=1 archived=0")
}

func TestRBACCommands(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("rbac", "grant", "7", "billing.view", "billing.payments.record"))
	require.Contains(t, h.out.String(), "user 7: billing.view billing.payments.record")

	h.out.Reset()
	require.NoError(t, h.run("rbac", "revoke", "7", "billing.view"))
	require.Contains(t, h.out.String(), "user 7:")

	require.Error(t, h.run("rbac", "show", "seven"))
	require.Error(t, h.run("rbac", "grant", "7"))
}
