package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeExpenseService struct {
	submit       func(ctx context.Context, actorID, expenseID string) (*entity.Expense, *entity.ApprovalWorkflow, error)
	applyReceipt func(ctx context.Context, actorID, expenseID string, content []byte, mimeType string) (*entity.Expense, error)
	statistics   func(ctx context.Context, employeeID string) (*entity.ExpenseStatistics, error)
}

func (f *fakeExpenseService) Submit(ctx context.Context, actorID, expenseID string) (*entity.Expense, *entity.ApprovalWorkflow, error) {
	return f.submit(ctx, actorID, expenseID)
}

func (f *fakeExpenseService) ApplyReceipt(ctx context.Context, actorID, expenseID string, content []byte, mimeType string) (*entity.Expense, error) {
	return f.applyReceipt(ctx, actorID, expenseID, content, mimeType)
}

func (f *fakeExpenseService) Statistics(ctx context.Context, employeeID string) (*entity.ExpenseStatistics, error) {
	return f.statistics(ctx, employeeID)
}

type fakeApprovalService struct {
	decide   func(ctx context.Context, actorID, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error)
	pending  func(ctx context.Context, userID string) ([]*entity.PendingApproval, error)
	export   func(ctx context.Context, userID string, w io.Writer) error
	workflow func(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error)
}

func (f *fakeApprovalService) Decide(ctx context.Context, actorID, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error) {
	return f.decide(ctx, actorID, requestID, action, comments)
}

func (f *fakeApprovalService) Pending(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	return f.pending(ctx, userID)
}

func (f *fakeApprovalService) ExportPending(ctx context.Context, userID string, w io.Writer) error {
	return f.export(ctx, userID, w)
}

func (f *fakeApprovalService) Workflow(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error) {
	return f.workflow(ctx, expenseID)
}

type observed struct {
	method, path string
	status       int
}

type fakeObserver struct {
	calls []observed
}

func (o *fakeObserver) ObserveHTTP(method, path string, status int, _ time.Duration) {
	o.calls = append(o.calls, observed{method: method, path: path, status: status})
}

func newTestServer(exp *fakeExpenseService, appr *fakeApprovalService, opts ...ServerOption) *Server {
	if exp == nil {
		exp = &fakeExpenseService{}
	}
	if appr == nil {
		appr = &fakeApprovalService{}
	}
	return NewServer(DefaultServerConfig(), exp, appr, nopLogger{}, opts...)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	rec := serve(newTestServer(nil, nil), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestAPI_RequiresUserHeader(t *testing.T) {
	rec := serve(newTestServer(nil, nil), httptest.NewRequest(http.MethodGet, "/api/approvals/pending", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "X-User-ID")
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"configuration", apperr.Configuration("no active user with role ADMIN"), http.StatusUnprocessableEntity, "CONFIGURATION"},
		{"conflict", apperr.Conflict("request r-1 already decided"), http.StatusConflict, "CONFLICT"},
		{"validation", apperr.Validation("action", "must be approve or reject"), http.StatusBadRequest, "VALIDATION"},
		{"not found", apperr.NotFound("approval request", "r-1"), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", apperr.Forbidden("not your request"), http.StatusForbidden, "FORBIDDEN"},
		{"internal", errors.New("database is locked"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appr := &fakeApprovalService{
				decide: func(context.Context, string, string, entity.Action, string) (*entity.ApprovalWorkflow, error) {
					return nil, tt.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/api/approvals/r-1/approve", nil)
			req.Header.Set("X-User-ID", "u-1")

			rec := serve(newTestServer(nil, appr), req)

			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			}
		})
	}
}

func TestDecisionRoutes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		action   entity.Action
		comments string
	}{
		{"approve without body", "/api/approvals/r-7/approve", "", entity.ActionApprove, ""},
		{"reject with comments", "/api/approvals/r-7/reject", `{"comments":"missing receipt"}`, entity.ActionReject, "missing receipt"},
		{"decision carries action", "/api/approvals/r-7/decision", `{"action":"approve","comments":"ok"}`, entity.ActionApprove, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor, gotRequest, gotComments string
			var gotAction entity.Action
			appr := &fakeApprovalService{
				decide: func(_ context.Context, actorID, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error) {
					gotActor, gotRequest, gotAction, gotComments = actorID, requestID, action, comments
					return &entity.ApprovalWorkflow{ID: "wf-1", Status: workflow.StateInProgress}, nil
				},
			}
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("X-User-ID", "approver-1")
			req.Header.Set("Content-Type", "application/json")

			rec := serve(newTestServer(nil, appr), req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "approver-1", gotActor)
			assert.Equal(t, "r-7", gotRequest)
			assert.Equal(t, tt.action, gotAction)
			assert.Equal(t, tt.comments, gotComments)
		})
	}
}

func TestDecision_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/r-1/decision", bytes.NewBufferString("{not json"))
	req.Header.Set("X-User-ID", "u-1")

	rec := serve(newTestServer(nil, nil), req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitExpense(t *testing.T) {
	exp := &fakeExpenseService{
		submit: func(_ context.Context, actorID, expenseID string) (*entity.Expense, *entity.ApprovalWorkflow, error) {
			assert.Equal(t, "emp-1", actorID)
			return &entity.Expense{ID: expenseID, Status: entity.ExpenseStatusPendingApproval, Amount: decimal.NewFromInt(120)},
				&entity.ApprovalWorkflow{ID: "wf-1", ExpenseID: expenseID, TotalSteps: 2, CurrentStep: 1}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/expenses/exp-1/submit", nil)
	req.Header.Set("X-User-ID", "emp-1")

	rec := serve(newTestServer(exp, nil), req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Expense  entity.Expense          `json:"expense"`
			Workflow entity.ApprovalWorkflow `json:"workflow"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "exp-1", body.Data.Expense.ID)
	assert.Equal(t, 2, body.Data.Workflow.TotalSteps)
}

func TestUploadReceipt(t *testing.T) {
	var gotMime string
	var gotContent []byte
	exp := &fakeExpenseService{
		applyReceipt: func(_ context.Context, _, expenseID string, content []byte, mimeType string) (*entity.Expense, error) {
			gotMime, gotContent = mimeType, content
			return &entity.Expense{ID: expenseID, Status: entity.ExpenseStatusDraft}, nil
		},
	}

	// PNG signature; the part header is left as octet-stream so sniffing decides.
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("receipt", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/expenses/exp-1/receipt", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "emp-1")

	rec := serve(newTestServer(exp, nil), req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", gotMime)
	assert.Equal(t, png, gotContent)
}

func TestUploadReceipt_MissingFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/expenses/exp-1/receipt", nil)
	req.Header.Set("X-User-ID", "emp-1")

	rec := serve(newTestServer(nil, nil), req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPending_EmptyIsArray(t *testing.T) {
	appr := &fakeApprovalService{
		pending: func(context.Context, string) ([]*entity.PendingApproval, error) {
			return nil, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/approvals/pending", nil)
	req.Header.Set("X-User-ID", "u-1")

	rec := serve(newTestServer(nil, appr), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())
}

func TestExportPending(t *testing.T) {
	appr := &fakeApprovalService{
		export: func(_ context.Context, userID string, w io.Writer) error {
			_, err := w.Write([]byte("xlsx-bytes:" + userID))
			return err
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/approvals/pending/export", nil)
	req.Header.Set("X-User-ID", "fin-1")

	rec := serve(newTestServer(nil, appr), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "pending-approvals-")
	assert.Equal(t, "xlsx-bytes:fin-1", rec.Body.String())
}

func TestStatsRouteIsNotAnExpenseID(t *testing.T) {
	exp := &fakeExpenseService{
		statistics: func(_ context.Context, employeeID string) (*entity.ExpenseStatistics, error) {
			return &entity.ExpenseStatistics{TotalExpenses: 3}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/expenses/stats", nil)
	req.Header.Set("X-User-ID", "emp-1")

	rec := serve(newTestServer(exp, nil), req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsOption(t *testing.T) {
	observer := &fakeObserver{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("expense_approval_up 1\n"))
	})
	appr := &fakeApprovalService{
		workflow: func(context.Context, string) (*entity.ApprovalWorkflow, error) {
			return nil, apperr.NotFound("workflow for expense", "exp-9")
		},
	}
	s := newTestServer(nil, appr, WithMetrics(observer, metrics))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "expense_approval_up")

	req := httptest.NewRequest(http.MethodGet, "/api/expenses/exp-9/workflow", nil)
	req.Header.Set("X-User-ID", "u-1")
	rec = serve(s, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Len(t, observer.calls, 2)
	assert.Equal(t, observed{http.MethodGet, "/api/expenses/:id/workflow", http.StatusNotFound}, observer.calls[1])
}
