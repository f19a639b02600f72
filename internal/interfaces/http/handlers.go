package http

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	expenseService  service.ExpenseService
	approvalService service.ApprovalService
	maxUploadBytes  int64
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	expenseService service.ExpenseService,
	approvalService service.ApprovalService,
	maxUploadBytes int64,
	logger Logger,
) *Handlers {
	return &Handlers{
		expenseService:  expenseService,
		approvalService: approvalService,
		maxUploadBytes:  maxUploadBytes,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// SubmitResponse is returned when an expense enters approval
type SubmitResponse struct {
	Expense  *entity.Expense          `json:"expense"`
	Workflow *entity.ApprovalWorkflow `json:"workflow"`
}

// DecisionRequest is the body of approve, reject and decision calls
type DecisionRequest struct {
	Action   string `json:"action"`
	Comments string `json:"comments"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// SubmitExpense handles POST /api/expenses/:id/submit
func (h *Handlers) SubmitExpense(c *gin.Context) {
	expense, wf, err := h.expenseService.Submit(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, "submit expense", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    SubmitResponse{Expense: expense, Workflow: wf},
	})
}

// UploadReceipt handles POST /api/expenses/:id/receipt (multipart field "receipt")
func (h *Handlers) UploadReceipt(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "receipt file is required",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.writeError(c, "open receipt", err)
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		h.writeError(c, "read receipt", err)
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(buf.Bytes())
	}

	expense, err := h.expenseService.ApplyReceipt(c.Request.Context(), currentUser(c), c.Param("id"), buf.Bytes(), mimeType)
	if err != nil {
		h.writeError(c, "apply receipt", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expense,
	})
}

// ExpenseStatistics handles GET /api/expenses/stats for the caller
func (h *Handlers) ExpenseStatistics(c *gin.Context) {
	stats, err := h.expenseService.Statistics(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, "expense statistics", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    stats,
	})
}

// GetWorkflow handles GET /api/expenses/:id/workflow
func (h *Handlers) GetWorkflow(c *gin.Context) {
	wf, err := h.approvalService.Workflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get workflow", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    wf,
	})
}

// ListPending handles GET /api/approvals/pending
func (h *Handlers) ListPending(c *gin.Context) {
	pending, err := h.approvalService.Pending(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, "list pending approvals", err)
		return
	}
	if pending == nil {
		pending = []*entity.PendingApproval{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    pending,
	})
}

// ExportPending handles GET /api/approvals/pending/export
func (h *Handlers) ExportPending(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.approvalService.ExportPending(c.Request.Context(), currentUser(c), &buf); err != nil {
		h.writeError(c, "export pending approvals", err)
		return
	}

	filename := "pending-approvals-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Approve handles POST /api/approvals/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	h.decide(c, entity.ActionApprove)
}

// Reject handles POST /api/approvals/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	h.decide(c, entity.ActionReject)
}

// Decide handles POST /api/approvals/:id/decision with the action in the body
func (h *Handlers) Decide(c *gin.Context) {
	h.decide(c, "")
}

// decide applies action, or the body's action when action is empty
func (h *Handlers) decide(c *gin.Context, action entity.Action) {
	var req DecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "invalid request body",
			})
			return
		}
	}
	if action == "" {
		action = entity.Action(req.Action)
	}

	wf, err := h.approvalService.Decide(c.Request.Context(), currentUser(c), c.Param("id"), action, req.Comments)
	if err != nil {
		h.writeError(c, "decide approval", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    wf,
	})
}
