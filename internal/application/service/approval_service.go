package service

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/expense-approval/internal/application/approval"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// PendingReport renders a review queue
type PendingReport interface {
	Write(w io.Writer, items []*entity.PendingApproval) error
}

// ApprovalService exposes approver actions on behalf of an authenticated user
type ApprovalService interface {
	Decide(ctx context.Context, actorID, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error)
	Pending(ctx context.Context, userID string) ([]*entity.PendingApproval, error)
	ExportPending(ctx context.Context, userID string, w io.Writer) error
	Workflow(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error)
}

type approvalServiceImpl struct {
	engine   approval.WorkflowEngine
	requests port.RequestRepository
	report   PendingReport
	logger   Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	engine approval.WorkflowEngine,
	requests port.RequestRepository,
	report PendingReport,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		engine:   engine,
		requests: requests,
		report:   report,
		logger:   logger,
	}
}

// Decide checks that actorID owns the request, then applies the decision
func (s *approvalServiceImpl) Decide(ctx context.Context, actorID, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load approval request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("approval request", requestID)
	}
	if req.ApproverID != actorID {
		s.logger.Info("Decision refused for non-approver", "request_id", requestID, "actor_id", actorID)
		return nil, apperr.Forbidden("user %s is not the approver of request %s", actorID, requestID)
	}

	wf, err := s.engine.ProcessApproval(ctx, requestID, action, utils.SanitizeString(comments))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Decision recorded", "request_id", requestID, "actor_id", actorID, "action", action, "workflow_status", wf.Status)
	return wf, nil
}

// Pending lists the requests userID can act on now
func (s *approvalServiceImpl) Pending(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	pending, err := s.engine.PendingApprovals(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list pending approvals", "error", err, "user_id", userID)
		return nil, err
	}
	return pending, nil
}

// ExportPending writes userID's review queue as a spreadsheet
func (s *approvalServiceImpl) ExportPending(ctx context.Context, userID string, w io.Writer) error {
	pending, err := s.Pending(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.report.Write(w, pending); err != nil {
		s.logger.Error("Failed to render pending approvals", "error", err, "user_id", userID)
		return fmt.Errorf("render pending approvals: %w", err)
	}
	return nil
}

// Workflow returns the approval progress of an expense
func (s *approvalServiceImpl) Workflow(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error) {
	return s.engine.Workflow(ctx, expenseID)
}
