package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/testutil"
)

type stubConverter struct {
	rate  decimal.Decimal
	calls int
}

func (c *stubConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	c.calls++
	if from == to {
		return amount
	}
	return amount.Mul(c.rate)
}

type stubExtractor struct {
	data      *entity.ReceiptData
	err       error
	onExtract func()
}

func (e *stubExtractor) Extract(ctx context.Context, content []byte, mimeType string) (*entity.ReceiptData, error) {
	if e.onExtract != nil {
		e.onExtract()
	}
	return e.data, e.err
}

// testLogger keeps the service log calls visible under go test -v
type testLogger struct {
	t *testing.T
}

func (l testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Helper()
	l.t.Log(append([]interface{}{"INFO", msg}, keysAndValues...)...)
}

func (l testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Helper()
	l.t.Log(append([]interface{}{"ERROR", msg}, keysAndValues...)...)
}

type stubReport struct {
	items []*entity.PendingApproval
	err   error
}

func (r *stubReport) Write(w io.Writer, items []*entity.PendingApproval) error {
	r.items = items
	if r.err != nil {
		return r.err
	}
	_, err := io.WriteString(w, "xlsx")
	return err
}

var errExtractorDown = errors.New("extractor unavailable")

type harness struct {
	f         *testutil.Fixture
	engine    approval.WorkflowEngine
	converter *stubConverter
	extractor *stubExtractor
	report    *stubReport
	expenses  ExpenseService
	approvals ApprovalService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := testutil.NewFixture(t)
	logger := zap.NewNop()

	planner := approval.NewPlanner(f.Rules, approval.NewResolver(f.Users, logger), logger)
	engine := approval.NewEngine(planner, approval.Repositories{
		Workflows: f.Workflows,
		Steps:     f.Steps,
		Requests:  f.Requests,
		Expenses:  f.Expenses,
	}, f.DB, logger)

	h := &harness{
		f:         f,
		engine:    engine,
		converter: &stubConverter{rate: decimal.RequireFromString("1.0837")},
		extractor: &stubExtractor{},
		report:    &stubReport{},
	}
	h.expenses = NewExpenseService(f.Expenses, f.Companies, h.converter, h.extractor, engine, f.DB, testLogger{t: t})
	h.approvals = NewApprovalService(engine, f.Requests, h.report, testLogger{t: t})
	return h
}
