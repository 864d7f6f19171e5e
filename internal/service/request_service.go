package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
	ws "backend/internal/websocket"

	"github.com/google/uuid"
)

// AutoForwardTypes lists the request types that skip manual triage and are
// assigned directly at creation. Static allow-list matching the small closed
// set of facility request types in the institution.
var AutoForwardTypes = []string{
	"Sử dụng CSVC",
	"Mở cửa phòng",
}

// Sentinel errors surfaced to handlers for HTTP status mapping
var (
	ErrRequestNotFound  = errors.New("request not found")
	ErrParentNotFound   = errors.New("parent request not found")
	ErrNestedSubRequest = errors.New("cannot create sub-request of a sub-request")
	ErrNotRequestOwner  = errors.New("not authorized to cancel this request")
)

// --- DTOs ---

type CreateRequestDTO struct {
	Type        string     `json:"type" binding:"required"`
	Location    string     `json:"location" binding:"required"`
	Description string     `json:"description"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
}

type UpdateRequestDTO struct {
	Status string `json:"status" binding:"omitempty,oneof=pending assigned completed rejected cancellation_requested cancelled"`
	Note   string `json:"note"`
}

type RequestFilter struct {
	Status string // optional status filter, empty for all
	Offset int
	Limit  int
}

type RequestResponse struct {
	ID              string               `json:"id"`
	Type            string               `json:"type"`
	Location        string               `json:"location"`
	Description     string               `json:"description"`
	StartTime       *string              `json:"start_time"`
	EndTime         *string              `json:"end_time"`
	Status          string               `json:"status"`
	CreatedAt       string               `json:"created_at"`
	History         []model.HistoryEntry `json:"history"`
	RejectionReason *string              `json:"rejection_reason"`
	CreatedByID     *string              `json:"created_by_id"`
	ParentID        *string              `json:"parent_id"`
	UserName        string               `json:"user_name,omitempty"`
}

// Websocket payload
type RequestEvent struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// RequestService is the lifecycle engine: creation with auto-forward
// classification, single-level sub-requests, unconditional status overwrite
// with rejection capture, and atomic cascade cancellation.
type RequestService interface {
	CreateRequest(ctx context.Context, userID string, req CreateRequestDTO) (RequestResponse, error)
	CreateSubRequest(ctx context.Context, userID string, parentID string, req CreateRequestDTO) (RequestResponse, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]RequestResponse, int64, error)
	GetRequest(ctx context.Context, id string) (RequestResponse, error)
	UpdateRequest(ctx context.Context, id string, req UpdateRequestDTO) (RequestResponse, error)
	CancelRequest(ctx context.Context, id string, userID string) (RequestResponse, error)
}

type requestService struct {
	requestRepo repository.RequestRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	hub         *ws.Hub
}

func NewRequestService(
	requestRepo repository.RequestRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) RequestService {
	return &requestService{
		requestRepo: requestRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		hub:         hub,
	}
}

// --- Implementation ---

func isAutoForward(requestType string) bool {
	for _, t := range AutoForwardTypes {
		if requestType == t {
			return true
		}
	}
	return false
}

func (s *requestService) CreateRequest(ctx context.Context, userID string, req CreateRequestDTO) (RequestResponse, error) {
	return s.createRequest(ctx, userID, req, nil)
}

func (s *requestService) CreateSubRequest(ctx context.Context, userID string, parentID string, req CreateRequestDTO) (RequestResponse, error) {
	pid, err := uuid.Parse(parentID)
	if err != nil {
		return RequestResponse{}, ErrParentNotFound
	}

	parent, err := s.requestRepo.FindByID(ctx, pid)
	if err != nil {
		return RequestResponse{}, ErrParentNotFound
	}

	// Max nesting depth is 1: a sub-request never spawns its own children
	if parent.ParentID != nil {
		return RequestResponse{}, ErrNestedSubRequest
	}

	return s.createRequest(ctx, userID, req, &parent.ID)
}

func (s *requestService) createRequest(ctx context.Context, userID string, req CreateRequestDTO, parentID *uuid.UUID) (RequestResponse, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return RequestResponse{}, ErrUserNotFound
	}

	creator, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return RequestResponse{}, ErrUserNotFound
	}

	auto := isAutoForward(req.Type)

	status := model.StatusPending
	if auto {
		status = model.StatusAssigned
	}

	history := model.HistoryLog{}.Append(model.HistoryActionCreated, "Request created by "+creator.FullName)
	if auto {
		history = history.Append(model.HistoryActionAutoForwarded, "System auto-forwarded to Technician due to request type")
	}

	request := &model.Request{
		Type:        req.Type,
		Location:    req.Location,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Status:      status,
		History:     history,
		CreatedByID: &creator.ID,
		ParentID:    parentID,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.requestRepo.Create(txCtx, request); createErr != nil {
			return fmt.Errorf("failed to create request: %w", createErr)
		}

		action := model.ActionCreateRequest
		if parentID != nil {
			action = model.ActionCreateSubRequest
		}
		details, _ := json.Marshal(map[string]interface{}{
			"type":         req.Type,
			"location":     req.Location,
			"status":       status,
			"auto_forward": auto,
		})
		audit := &model.AuditLog{
			UserID:     &creator.ID,
			Action:     action,
			EntityID:   request.ID.String(),
			EntityName: request.Type,
			Details:    string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}
		return nil
	})
	if err != nil {
		return RequestResponse{}, err
	}

	s.broadcast("request.created", map[string]interface{}{
		"id":     request.ID.String(),
		"type":   request.Type,
		"status": request.Status,
	})

	request.CreatedBy = creator
	return toRequestResponse(request), nil
}

func (s *requestService) ListRequests(ctx context.Context, filter RequestFilter) ([]RequestResponse, int64, error) {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	requests, total, err := s.requestRepo.List(ctx, filter.Status, filter.Offset, filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch requests: %w", err)
	}

	res := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		res = append(res, toRequestResponse(&requests[i]))
	}
	return res, total, nil
}

func (s *requestService) GetRequest(ctx context.Context, id string) (RequestResponse, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, ErrRequestNotFound
	}

	request, err := s.requestRepo.FindByIDWithCreator(ctx, rid)
	if err != nil {
		return RequestResponse{}, ErrRequestNotFound
	}

	return toRequestResponse(request), nil
}

// UpdateRequest overwrites the status unconditionally — any status may follow
// any status. A note on a rejection is captured as the rejection reason.
func (s *requestService) UpdateRequest(ctx context.Context, id string, req UpdateRequestDTO) (RequestResponse, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, ErrRequestNotFound
	}

	request, err := s.requestRepo.FindByIDWithCreator(ctx, rid)
	if err != nil {
		return RequestResponse{}, ErrRequestNotFound
	}

	if req.Status != "" {
		request.Status = req.Status

		if req.Status == model.StatusRejected && req.Note != "" {
			reason := req.Note
			request.RejectionReason = &reason
		}

		request.History = request.History.Append("Status changed to "+req.Status, req.Note)

		err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
				return fmt.Errorf("failed to update request: %w", updateErr)
			}

			details, _ := json.Marshal(map[string]interface{}{
				"status": req.Status,
				"note":   req.Note,
			})
			audit := &model.AuditLog{
				Action:     model.ActionUpdateRequestStatus,
				EntityID:   request.ID.String(),
				EntityName: request.Type,
				Details:    string(details),
			}
			if auditErr := s.auditRepo.Log(txCtx, audit); auditErr != nil {
				return fmt.Errorf("failed to write audit log: %w", auditErr)
			}
			return nil
		})
		if err != nil {
			return RequestResponse{}, err
		}

		s.broadcast("request.status_changed", map[string]interface{}{
			"id":     request.ID.String(),
			"status": request.Status,
		})
	}

	return toRequestResponse(request), nil
}

// CancelRequest cancels a request and cascades to every direct child in one
// transaction. Children are forced to cancelled regardless of their current
// status; a partial cascade is never visible.
func (s *requestService) CancelRequest(ctx context.Context, id string, userID string) (RequestResponse, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, ErrRequestNotFound
	}

	uid, err := uuid.Parse(userID)
	if err != nil {
		return RequestResponse{}, ErrNotRequestOwner
	}

	request, err := s.requestRepo.FindByIDWithCreator(ctx, rid)
	if err != nil {
		return RequestResponse{}, ErrRequestNotFound
	}

	// Only the original creator may cancel
	if request.CreatedByID == nil || *request.CreatedByID != uid {
		return RequestResponse{}, ErrNotRequestOwner
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		request.Status = model.StatusCancelled
		request.History = request.History.Append(model.HistoryActionCancelled, "Cancelled by user")
		if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
			return fmt.Errorf("failed to cancel request: %w", updateErr)
		}

		children, findErr := s.requestRepo.FindChildren(txCtx, request.ID)
		if findErr != nil {
			return fmt.Errorf("failed to load sub-requests: %w", findErr)
		}

		for i := range children {
			child := &children[i]
			child.Status = model.StatusCancelled
			child.History = child.History.Append(model.HistoryActionCancelled, "Cancelled because parent request was cancelled")
			if updateErr := s.requestRepo.Update(txCtx, child); updateErr != nil {
				return fmt.Errorf("failed to cancel sub-request %s: %w", child.ID, updateErr)
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"cascaded_children": len(children),
		})
		audit := &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionCancelRequest,
			EntityID:   request.ID.String(),
			EntityName: request.Type,
			Details:    string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}
		return nil
	})
	if err != nil {
		return RequestResponse{}, err
	}

	s.broadcast("request.cancelled", map[string]interface{}{
		"id": request.ID.String(),
	})

	return toRequestResponse(request), nil
}

func (s *requestService) broadcast(event string, data map[string]interface{}) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(RequestEvent{Event: event, Data: data})
	if err != nil {
		return
	}
	s.hub.Broadcast <- payload
}

// --- Helpers ---

func toRequestResponse(r *model.Request) RequestResponse {
	resp := RequestResponse{
		ID:              r.ID.String(),
		Type:            r.Type,
		Location:        r.Location,
		Description:     r.Description,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		History:         r.History,
		RejectionReason: r.RejectionReason,
	}

	if r.StartTime != nil {
		s := r.StartTime.Format(time.RFC3339)
		resp.StartTime = &s
	}
	if r.EndTime != nil {
		s := r.EndTime.Format(time.RFC3339)
		resp.EndTime = &s
	}
	if r.CreatedByID != nil {
		s := r.CreatedByID.String()
		resp.CreatedByID = &s
	}
	if r.ParentID != nil {
		s := r.ParentID.String()
		resp.ParentID = &s
	}
	if r.CreatedBy != nil {
		resp.UserName = r.CreatedBy.FullName
	}

	return resp
}
