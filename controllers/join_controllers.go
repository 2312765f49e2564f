package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-join/middlewares"
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/services"
	"github.com/yeremiapane/table-join/utils"
)

var (
	ErrNoPermission   = errors.New("you do not have permission to access this merchant")
	ErrInvalidTableID = errors.New("invalid table id")
	errInternal       = errors.New("something went wrong, please try again")
)

var joinErrorStatus = map[services.JoinErrorCode]int{
	services.CodeInvalidPair:        http.StatusBadRequest,
	services.CodeNotFound:           http.StatusNotFound,
	services.CodeForbidden:          http.StatusForbidden,
	services.CodeAlreadyResolved:    http.StatusConflict,
	services.CodeTableOccupied:      http.StatusConflict,
	services.CodeExpired:            http.StatusGone,
	services.CodeWrongState:         http.StatusConflict,
	services.CodeCodeSpaceExhausted: http.StatusServiceUnavailable,
}

// respondJoinError turns a coordinator outcome into the response envelope.
// data, when not nil, carries the current state of the entity.
func respondJoinError(c *gin.Context, err error, data interface{}) {
	code := services.JoinErrorCodeOf(err)
	status, ok := joinErrorStatus[code]
	if !ok {
		utils.ErrorLogger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		utils.RespondError(c, http.StatusInternalServerError, errInternal)
		return
	}
	c.Header("X-Join-Error", string(code))
	if data != nil {
		utils.RespondErrorData(c, status, err, data)
		return
	}
	utils.RespondError(c, status, err)
}

// canAccessMerchant lets admins through and scopes every other staff role to
// the merchant in its token.
func canAccessMerchant(c *gin.Context, merchantID string) bool {
	if c.GetString(middlewares.CtxRole) == "admin" {
		return true
	}
	return merchantID != "" && c.GetString(middlewares.CtxMerchantID) == merchantID
}

func parseTableID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("table_id"), 10, 64)
	if err != nil || id == 0 {
		utils.RespondError(c, http.StatusBadRequest, ErrInvalidTableID)
		return 0, false
	}
	return uint(id), true
}

type JoinController struct {
	Coordinator *services.JoinCoordinator
}

func NewJoinController(coordinator *services.JoinCoordinator) *JoinController {
	return &JoinController{Coordinator: coordinator}
}

type createJoinRequestBody struct {
	FromTableID  uint   `json:"from_table_id" binding:"required"`
	ToTableID    uint   `json:"to_table_id" binding:"required"`
	TemplateType string `json:"template_type" binding:"required,max=50"`
}

type respondJoinBody struct {
	TableID uint   `json:"table_id" binding:"required"`
	Action  string `json:"action" binding:"required,join_action"`
}

type tableActionBody struct {
	TableID uint `json:"table_id" binding:"required"`
}

type endJoinBody struct {
	Reason string `json:"reason" binding:"omitempty,join_end_reason"`
}

// CreateRequest -> table asks another table to join
func (jc *JoinController) CreateRequest(c *gin.Context) {
	var body createJoinRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	req, err := jc.Coordinator.RequestJoin(c.Request.Context(), body.FromTableID, body.ToTableID, body.TemplateType)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Join request sent", req)
}

func (jc *JoinController) GetRequest(c *gin.Context) {
	req, err := jc.Coordinator.GetRequest(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join request detail", req)
}

// RespondRequest -> recipient table accepts or rejects
func (jc *JoinController) RespondRequest(c *gin.Context) {
	var body respondJoinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	result, err := jc.Coordinator.RespondToJoin(c.Request.Context(), c.Param("request_id"), services.RespondAction(body.Action), body.TableID)
	if err != nil {
		var data interface{}
		if result != nil {
			data = result
		}
		respondJoinError(c, err, data)
		return
	}

	message := "Join request rejected"
	if result.Session != nil {
		message = "Join request accepted, show the code to staff"
	}
	utils.RespondJSON(c, http.StatusOK, message, result)
}

// CancelRequest -> sending table withdraws its request
func (jc *JoinController) CancelRequest(c *gin.Context) {
	var body tableActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	jc.cancel(c, services.TableActor(body.TableID))
}

func (jc *JoinController) IncomingRequests(c *gin.Context) {
	tableID, ok := parseTableID(c)
	if !ok {
		return
	}
	requests, err := jc.Coordinator.IncomingRequests(c.Request.Context(), tableID)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Incoming join requests", requests)
}

func (jc *JoinController) TableStatus(c *gin.Context) {
	tableID, ok := parseTableID(c)
	if !ok {
		return
	}
	status, err := jc.Coordinator.TableStatus(c.Request.Context(), tableID)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table join status", status)
}

func (jc *JoinController) GetSession(c *gin.Context) {
	session, err := jc.Coordinator.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join session detail", session)
}

// LeaveSession -> one of the paired tables leaves
func (jc *JoinController) LeaveSession(c *gin.Context) {
	var body tableActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	session, err := jc.Coordinator.EndJoin(c.Request.Context(), c.Param("session_id"), models.EndReasonGuestLeft, services.TableActor(body.TableID))
	if err != nil {
		var data interface{}
		if session != nil {
			data = session
		}
		respondJoinError(c, err, data)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join session ended", session)
}

// ConfirmSession -> staff verified the code on both tables
func (jc *JoinController) ConfirmSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if !jc.authorizeSession(c, sessionID) {
		return
	}

	session, err := jc.Coordinator.ConfirmJoin(c.Request.Context(), sessionID, c.GetString(middlewares.CtxStaffID))
	if err != nil {
		var data interface{}
		if session != nil {
			data = session
		}
		respondJoinError(c, err, data)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join session confirmed", session)
}

// FindSessionByCode -> staff types the code shown on a guest screen
func (jc *JoinController) FindSessionByCode(c *gin.Context) {
	merchantID := c.Param("merchant_id")
	if !canAccessMerchant(c, merchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}
	session, err := jc.Coordinator.FindActiveSessionByCode(c.Request.Context(), merchantID, c.Param("code"))
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join session detail", session)
}

// EndSession -> staff ends a live session
func (jc *JoinController) EndSession(c *gin.Context) {
	var body endJoinBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
	}
	reason := models.EndReason(body.Reason)
	if reason == "" {
		reason = models.EndReasonAdminCancelled
	}

	sessionID := c.Param("session_id")
	if !jc.authorizeSession(c, sessionID) {
		return
	}
	session, err := jc.Coordinator.EndJoin(c.Request.Context(), sessionID, reason, services.StaffActor(c.GetString(middlewares.CtxStaffID)))
	if err != nil {
		var data interface{}
		if session != nil {
			data = session
		}
		respondJoinError(c, err, data)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join session ended", session)
}

// StaffCancelRequest -> staff withdraws any pending request of its merchant
func (jc *JoinController) StaffCancelRequest(c *gin.Context) {
	merchantID, err := jc.Coordinator.RequestMerchant(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	if !canAccessMerchant(c, merchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}
	jc.cancel(c, services.StaffActor(c.GetString(middlewares.CtxStaffID)))
}

func (jc *JoinController) ListActive(c *gin.Context) {
	merchantID := c.Param("merchant_id")
	if !canAccessMerchant(c, merchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}
	active, err := jc.Coordinator.ListActive(c.Request.Context(), merchantID)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Active joins", active)
}

// Stats -> dashboard counters, default window is the last 24 hours
func (jc *JoinController) Stats(c *gin.Context) {
	merchantID := c.Param("merchant_id")
	if !canAccessMerchant(c, merchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, errors.New("since must be an RFC3339 timestamp"))
			return
		}
		since = parsed
	}

	stats, err := jc.Coordinator.StatsSince(c.Request.Context(), merchantID, since)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join statistics", stats)
}

// Sweep -> run both expiry sweeps now
func (jc *JoinController) Sweep(c *gin.Context) {
	ctx := c.Request.Context()
	expired, err := jc.Coordinator.ExpireDueRequests(ctx)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	cancelled, err := jc.Coordinator.SweepExpiredConfirmations(ctx)
	if err != nil {
		respondJoinError(c, err, nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Sweep completed", gin.H{
		"expired_requests":   expired,
		"cancelled_sessions": cancelled,
	})
}

func (jc *JoinController) cancel(c *gin.Context, by services.Actor) {
	req, err := jc.Coordinator.CancelJoin(c.Request.Context(), c.Param("request_id"), by)
	if err != nil {
		var data interface{}
		if req != nil {
			data = req
		}
		respondJoinError(c, err, data)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Join request cancelled", req)
}

func (jc *JoinController) authorizeSession(c *gin.Context, sessionID string) bool {
	merchantID, err := jc.Coordinator.SessionMerchant(c.Request.Context(), sessionID)
	if err != nil {
		respondJoinError(c, err, nil)
		return false
	}
	if !canAccessMerchant(c, merchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return false
	}
	return true
}
