package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crm-platform/internal/auth"
	"crm-platform/internal/calllog"
	"crm-platform/internal/engagement"
	"crm-platform/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth        *auth.Manager
	Engagements *engagement.Manager
	Calls       *calllog.Recorder
	Metrics     *metrics.Service
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engagement.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engagement.ErrInvalidArgument), errors.Is(err, metrics.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, engagement.ErrSlotConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation belongs to the identity provider fronting
// this service; this endpoint only mints tokens for already-verified
// identities.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Engagements ---

type startRequest struct {
	CustomerID string           `json:"customer_id"`
	Role       engagement.Role  `json:"role"`
	AssignedAt *time.Time       `json:"assigned_at,omitempty"`
	Visibility []string         `json:"visibility,omitempty"`
	Meta       *engagement.Meta `json:"meta,omitempty"`
}

func (h Handlers) StartEngagement(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	e, err := h.Engagements.Start(c.Request.Context(), engagement.StartParams{
		CustomerID: req.CustomerID,
		UserID:     userID,
		Role:       req.Role,
		AssignedAt: req.AssignedAt,
		Meta:       req.Meta,
		Visibility: req.Visibility,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

type touchRequest struct {
	CustomerID string          `json:"customer_id"`
	Role       engagement.Role `json:"role"`
}

func (h Handlers) RegisterTouch(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req touchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	e, err := h.Engagements.RegisterTouch(c.Request.Context(), req.CustomerID, userID, req.Role)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type viewRequest struct {
	CustomerID string `json:"customer_id"`
}

func (h Handlers) RegisterProfileView(c *gin.Context) {
	h.registerView(c, h.Engagements.RegisterProfileView)
}

func (h Handlers) RegisterPhoneView(c *gin.Context) {
	h.registerView(c, h.Engagements.RegisterPhoneView)
}

func (h Handlers) registerView(c *gin.Context, view func(ctx context.Context, customerID, userID string) (engagement.Engagement, bool, error)) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	e, ok, err := view(c.Request.Context(), req.CustomerID, userID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if !ok {
		// Passive views never create ownership; absence is not an error.
		c.JSON(http.StatusOK, gin.H{"engagement": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"engagement": e})
}

type releaseRequest struct {
	CustomerID  string `json:"customer_id"`
	FinalStatus string `json:"final_status,omitempty"`
}

func (h Handlers) ReleaseEngagement(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Engagements.Release(c.Request.Context(), req.CustomerID, req.FinalStatus); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

type closeRequest struct {
	CustomerID string           `json:"customer_id"`
	Role       *engagement.Role `json:"role,omitempty"`
}

func (h Handlers) CloseActiveByRole(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := h.Engagements.CloseActiveByRole(c.Request.Context(), req.CustomerID, req.Role)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": n})
}

func (h Handlers) GetEngagement(c *gin.Context) {
	e, err := h.Engagements.Get(c.Request.Context(), c.Param("engagement_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type viewerRequest struct {
	UserID string `json:"user_id"`
}

func (h Handlers) AddViewer(c *gin.Context) {
	var req viewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Engagements.AddViewer(c.Request.Context(), c.Param("engagement_id"), req.UserID); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) RemoveViewer(c *gin.Context) {
	if err := h.Engagements.RemoveViewer(c.Request.Context(), c.Param("engagement_id"), c.Param("user_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) CanUserSee(c *gin.Context) {
	ok, err := h.Engagements.CanUserSee(c.Request.Context(), c.Param("engagement_id"), c.Param("user_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_see": ok})
}

type statusChangeRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (h Handlers) RecordStatusChange(c *gin.Context) {
	var req statusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ev, err := h.Engagements.RecordStatusChange(c.Request.Context(), c.Param("engagement_id"), req.Status, req.Note)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// --- Calls ---

type registerCallRequest struct {
	CustomerID string            `json:"customer_id"`
	Role       engagement.Role   `json:"role"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Direction  calllog.Direction `json:"direction"`
	Note       string            `json:"note,omitempty"`
}

func (h Handlers) RegisterCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req registerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	entry, err := h.Calls.RegisterCall(c.Request.Context(), calllog.RegisterCallParams{
		CustomerID: req.CustomerID,
		UserID:     userID,
		Role:       req.Role,
		StartedAt:  req.StartedAt,
		EndedAt:    req.EndedAt,
		Direction:  req.Direction,
		Note:       req.Note,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type callOutcomeRequest struct {
	EndedAt *time.Time `json:"ended_at,omitempty"`
	Note    *string    `json:"note,omitempty"`
}

func (h Handlers) UpdateCallOutcome(c *gin.Context) {
	var req callOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	entry, err := h.Calls.UpdateOutcome(c.Request.Context(), c.Param("call_log_id"), req.EndedAt, req.Note)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// --- Metrics ---

func (h Handlers) DashboardKPI(c *gin.Context) {
	k, err := h.Metrics.DashboardKPI(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (h Handlers) UserStats(c *gin.Context) {
	var from, to time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}
	stats, err := h.Metrics.UserStats(c.Request.Context(), c.Param("user_id"), engagement.Role(c.Query("role")), from, to)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) UserPerformance(c *gin.Context) {
	period := metrics.Period(c.DefaultQuery("period", string(metrics.PeriodWeek)))
	out, err := h.Metrics.UserPerformance(c.Request.Context(), period)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) Timeline(c *gin.Context) {
	events, err := h.Metrics.Timeline(c.Request.Context(), c.Param("engagement_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h Handlers) History(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	out, err := h.Metrics.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
