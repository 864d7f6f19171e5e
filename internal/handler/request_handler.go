package handler

import (
	"errors"
	"net/http"

	"backend/internal/middleware"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	requestService service.RequestService
}

func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		requests.POST("/", middleware.RequireAuth(), h.CreateRequest)
		requests.POST("/:id/sub", middleware.RequireAuth(), h.CreateSubRequest)
		requests.GET("/", h.ListRequests)
		requests.GET("/:id", h.GetRequest)
		requests.PATCH("/:id", h.UpdateRequest)
		requests.POST("/:id/cancel", middleware.RequireAuth(), h.CancelRequest)
	}
}

// statusForError maps service sentinel errors onto HTTP statuses
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrRequestNotFound), errors.Is(err, service.ErrParentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNestedSubRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotRequestOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func currentUserID(c *gin.Context) string {
	userID, _ := c.Get("userID")
	idStr, _ := userID.(string)
	return idStr
}

// CreateRequest handles POST /api/requests/
// @Summary      Create a request
// @Description  Creates a facility/service request; auto-forwarded types start assigned
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateRequestDTO  true  "Create Request Payload"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/requests/ [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req service.CreateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.CreateRequest(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		status := statusForError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// CreateSubRequest handles POST /api/requests/:id/sub
// @Summary      Create a sub-request
// @Description  Creates a child of an existing request; nesting depth is limited to one level
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                    true  "Parent Request ID"
// @Param        payload  body      service.CreateRequestDTO  true  "Create Request Payload"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/requests/{id}/sub [post]
func (h *RequestHandler) CreateSubRequest(c *gin.Context) {
	var req service.CreateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.CreateSubRequest(c.Request.Context(), currentUserID(c), c.Param("id"), req)
	if err != nil {
		status := statusForError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests handles GET /api/requests/
// @Summary      List requests
// @Description  Retrieves requests with offset/limit pagination and optional status filter
// @Tags         requests
// @Produce      json
// @Param        offset  query     int     false  "Offset (default 0)"
// @Param        limit   query     int     false  "Number of items (default 100)"
// @Param        status  query     string  false  "Status filter"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/requests/ [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	params := pagination.Parse(c)
	filter := service.RequestFilter{
		Status: c.Query("status"),
		Offset: params.Offset,
		Limit:  params.Limit,
	}

	requests, total, err := h.requestService.ListRequests(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to fetch requests"))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
		"offset":   params.Offset,
		"limit":    params.Limit,
	}))
}

// GetRequest handles GET /api/requests/:id
// @Summary      Get request by ID
// @Tags         requests
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	result, err := h.requestService.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := statusForError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// UpdateRequest handles PATCH /api/requests/:id
// @Summary      Update request status
// @Description  Overwrites the status and appends a history entry; a note on a rejection becomes the rejection reason
// @Tags         requests
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Request ID"
// @Param        payload  body      service.UpdateRequestDTO  true  "Update Payload"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/requests/{id} [patch]
func (h *RequestHandler) UpdateRequest(c *gin.Context) {
	var req service.UpdateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.UpdateRequest(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		status := statusForError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// CancelRequest handles POST /api/requests/:id/cancel
// @Summary      Cancel a request
// @Description  Cancels a request (creator only) and cascades cancellation to its sub-requests
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/cancel [post]
func (h *RequestHandler) CancelRequest(c *gin.Context) {
	result, err := h.requestService.CancelRequest(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		status := statusForError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
