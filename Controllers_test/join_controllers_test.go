package Controllers_test

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/table-join/middlewares"
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/services"
)

func TestJoinFlowOverHTTP(t *testing.T) {
	app := setupTestApp(t, nil)
	staff := staffToken(t, "staff-7", "staff", "m1")

	session := app.createAndAccept(5, 14)
	assert.Len(t, session.JoinCode, 6)
	assert.Equal(t, models.JoinSessionPendingConfirmation, session.Status)

	w, resp := app.do(http.MethodGet, "/admin/merchants/m1/join-sessions/by-code/"+session.JoinCode, nil, staff)
	require.Equal(t, http.StatusOK, w.Code, resp.Message)

	w, resp = app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/confirm", nil, staff)
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	assert.Equal(t, "Join session confirmed", resp.Message)
	var confirmed models.JoinSession
	decode(t, resp.Data, &confirmed)
	assert.Equal(t, models.JoinSessionConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedBy)
	assert.Equal(t, "staff-7", *confirmed.ConfirmedBy)

	w, resp = app.do(http.MethodPost, "/join-sessions/"+session.ID+"/leave", gin.H{"table_id": 14}, "")
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	var ended models.JoinSession
	decode(t, resp.Data, &ended)
	assert.Equal(t, models.JoinSessionEnded, ended.Status)
	require.NotNil(t, ended.EndReason)
	assert.Equal(t, models.EndReasonGuestLeft, *ended.EndReason)

	for _, id := range []uint{5, 14} {
		w, resp = app.do(http.MethodGet, "/tables/"+strconv.Itoa(int(id))+"/join-status", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var status services.TableJoinStatus
		decode(t, resp.Data, &status)
		assert.True(t, status.Free, "table %d", id)
	}

	w, resp = app.do(http.MethodGet, "/admin/merchants/m1/notifications", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	var notifs []models.Notification
	decode(t, resp.Data, &notifs)
	assert.Len(t, notifs, 5, "created, accepted, allocated, confirmed, ended")
}

func TestCreateJoinRequestValidation(t *testing.T) {
	app := setupTestApp(t, nil)

	w, _ := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 2}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "template_type is required")

	w, resp := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 1, "template_type": "available_now"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(services.CodeInvalidPair), w.Header().Get("X-Join-Error"))
	assert.False(t, resp.Status)

	w, _ = app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 20, "template_type": "available_now"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "tables of different merchants")

	w, _ = app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 2, "template_type": "available_now"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 3, "to_table_id": 1, "template_type": "available_now"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(services.CodeTableOccupied), w.Header().Get("X-Join-Error"))
}

func TestRespondToJoinRequestOverHTTP(t *testing.T) {
	app := setupTestApp(t, nil)

	w, resp := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 2, "template_type": "available_now"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var req models.JoinRequest
	decode(t, resp.Data, &req)
	path := "/join-requests/" + req.ID + "/respond"

	w, _ = app.do(http.MethodPost, path, gin.H{"table_id": 2, "action": "maybe"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = app.do(http.MethodPost, path, gin.H{"table_id": 3, "action": "accept"}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = app.do(http.MethodPost, path, gin.H{"table_id": 2, "action": "reject"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Join request rejected", resp.Message)

	w, resp = app.do(http.MethodPost, path, gin.H{"table_id": 2, "action": "accept"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(services.CodeAlreadyResolved), w.Header().Get("X-Join-Error"))
	var current services.RespondResult
	decode(t, resp.Data, &current)
	assert.Equal(t, models.JoinRequestRejected, current.Request.Status)

	w, _ = app.do(http.MethodPost, "/join-requests/unknown/respond", gin.H{"table_id": 2, "action": "accept"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpiredRequestAnswersGone(t *testing.T) {
	app := setupTestApp(t, nil)

	w, resp := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 2, "template_type": "available_now"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var req models.JoinRequest
	decode(t, resp.Data, &req)

	app.clock.Advance(4 * time.Minute)
	w, resp = app.do(http.MethodPost, "/join-requests/"+req.ID+"/respond", gin.H{"table_id": 2, "action": "accept"}, "")
	assert.Equal(t, http.StatusGone, w.Code)
	var current services.RespondResult
	decode(t, resp.Data, &current)
	assert.Equal(t, models.JoinRequestExpired, current.Request.Status)
}

func TestCancelJoinRequestOverHTTP(t *testing.T) {
	app := setupTestApp(t, nil)

	w, resp := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 2, "template_type": "available_now"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var req models.JoinRequest
	decode(t, resp.Data, &req)

	w, _ = app.do(http.MethodPost, "/join-requests/"+req.ID+"/cancel", gin.H{"table_id": 2}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = app.do(http.MethodPost, "/admin/join-requests/"+req.ID+"/cancel", nil, staffToken(t, "s2", "staff", "m2"))
	assert.Equal(t, http.StatusForbidden, w.Code, "staff of another merchant")

	w, resp = app.do(http.MethodPost, "/admin/join-requests/"+req.ID+"/cancel", nil, staffToken(t, "s1", "staff", "m1"))
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	var cancelled models.JoinRequest
	decode(t, resp.Data, &cancelled)
	assert.Equal(t, models.JoinRequestCancelled, cancelled.Status)
}

func TestStaffEndpointsRequireToken(t *testing.T) {
	app := setupTestApp(t, nil)
	session := app.createAndAccept(1, 2)

	w, _ := app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/confirm", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/confirm", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/confirm", nil, staffToken(t, "s2", "staff", "m2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = app.do(http.MethodGet, "/admin/merchants/m1/joins/active", nil, staffToken(t, "s2", "staff", "m2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = app.do(http.MethodGet, "/admin/merchants/m1/joins/active", nil, staffToken(t, "root", "admin", ""))
	assert.Equal(t, http.StatusOK, w.Code, "admins see every merchant")
}

func TestConfirmAfterWindowIsGone(t *testing.T) {
	app := setupTestApp(t, nil)
	staff := staffToken(t, "staff-1", "staff", "m1")
	session := app.createAndAccept(1, 2)

	app.clock.Advance(5*time.Minute + time.Second)
	w, resp := app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/confirm", nil, staff)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, string(services.CodeExpired), w.Header().Get("X-Join-Error"))
	var cancelled models.JoinSession
	decode(t, resp.Data, &cancelled)
	assert.Equal(t, models.JoinSessionCancelled, cancelled.Status)

	w, _ = app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/confirm", nil, staff)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(services.CodeWrongState), w.Header().Get("X-Join-Error"))
}

func TestStaffEndSessionIsIdempotent(t *testing.T) {
	app := setupTestApp(t, nil)
	staff := staffToken(t, "staff-1", "manager", "m1")
	session := app.createAndAccept(1, 2)

	w, _ := app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/end", gin.H{"reason": "confirmation_timeout"}, staff)
	assert.Equal(t, http.StatusBadRequest, w.Code, "confirmation_timeout is recorded by the system only")

	w, resp := app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/end", nil, staff)
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	var first models.JoinSession
	decode(t, resp.Data, &first)
	assert.Equal(t, models.EndReasonAdminCancelled, *first.EndReason)

	w, resp = app.do(http.MethodPost, "/admin/join-sessions/"+session.ID+"/end", gin.H{"reason": "guest_left"}, staff)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.JoinSession
	decode(t, resp.Data, &second)
	assert.Equal(t, models.EndReasonAdminCancelled, *second.EndReason)
	assert.Equal(t, *first.EndedBy, *second.EndedBy)
}

func TestActiveJoinsAndStats(t *testing.T) {
	app := setupTestApp(t, nil)
	staff := staffToken(t, "staff-1", "staff", "m1")
	app.createAndAccept(1, 2)
	w, _ := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 3, "to_table_id": 4, "template_type": "available_now"}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := app.do(http.MethodGet, "/admin/merchants/m1/joins/active", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	var active services.ActiveJoins
	decode(t, resp.Data, &active)
	assert.Len(t, active.Requests, 1)
	assert.Len(t, active.Sessions, 1)

	w, resp = app.do(http.MethodGet, "/admin/merchants/m1/joins/stats", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.JoinStats
	decode(t, resp.Data, &stats)
	assert.EqualValues(t, 1, stats.PendingRequests)
	assert.EqualValues(t, 1, stats.ActiveSessions)
	assert.EqualValues(t, 2, stats.RequestsCreated)
	assert.EqualValues(t, 1, stats.RequestsAccepted)

	w, _ = app.do(http.MethodGet, "/admin/merchants/m1/joins/stats?since=yesterday", nil, staff)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSweepRequiresAdmin(t *testing.T) {
	app := setupTestApp(t, nil)
	w, _ := app.do(http.MethodPost, "/join-requests", gin.H{"from_table_id": 1, "to_table_id": 2, "template_type": "available_now"}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = app.do(http.MethodPost, "/admin/joins/sweep", nil, staffToken(t, "staff-1", "manager", "m1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	app.clock.Advance(10 * time.Minute)
	w, resp := app.do(http.MethodPost, "/admin/joins/sweep", nil, staffToken(t, "root", "admin", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int
	decode(t, resp.Data, &counts)
	assert.Equal(t, 1, counts["expired_requests"])
	assert.Equal(t, 0, counts["cancelled_sessions"])
}

func TestGuestRoutesAreRateLimited(t *testing.T) {
	app := setupTestApp(t, middlewares.NewRateLimiter(1, 2))

	for i := 0; i < 2; i++ {
		w, _ := app.do(http.MethodGet, "/tables/1/join-status", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := app.do(http.MethodGet, "/tables/1/join-status", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, resp.Status)

	w, _ = app.do(http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, "ping is outside the guest group")
}

func TestLeaveAfterConfirmationWindowIsGone(t *testing.T) {
	app := setupTestApp(t, nil)
	session := app.createAndAccept(1, 2)
	app.clock.Advance(30 * time.Minute)

	w, resp := app.do(http.MethodPost, "/join-sessions/"+session.ID+"/leave", gin.H{"table_id": 1}, "")
	require.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, string(services.CodeExpired), w.Header().Get("X-Join-Error"))
	var cancelled models.JoinSession
	decode(t, resp.Data, &cancelled)
	assert.Equal(t, models.JoinSessionCancelled, cancelled.Status)
	assert.Equal(t, models.EndReasonConfirmationTimeout, *cancelled.EndReason)

	w, resp = app.do(http.MethodGet, "/tables/1/join-status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status services.TableJoinStatus
	decode(t, resp.Data, &status)
	assert.True(t, status.Free)
}
