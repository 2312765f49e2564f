package Controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/table-join/config"
	"github.com/yeremiapane/table-join/database"
	"github.com/yeremiapane/table-join/hub"
	"github.com/yeremiapane/table-join/middlewares"
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/router"
	"github.com/yeremiapane/table-join/services"
	"github.com/yeremiapane/table-join/utils"
)

type testApp struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	clock  *clockwork.FakeClock
}

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// setupTestApp wires the full router over a private in-memory database with
// tables 1..6 and 14 of merchant m1 and table 20 of merchant m2.
func setupTestApp(t *testing.T, limiter *middlewares.RateLimiter) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.InitLogger("error", "text")
	utils.SetJWTSecret("controllers-test-secret")

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	for _, id := range []uint{1, 2, 3, 4, 5, 6, 14} {
		require.NoError(t, db.Create(&models.Table{ID: id, MerchantID: "m1", TableNumber: fmt.Sprintf("A%d", id), Status: "available"}).Error)
	}
	require.NoError(t, db.Create(&models.Table{ID: 20, MerchantID: "m2", TableNumber: "B1", Status: "available"}).Error)

	clock := clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Second))
	cfg := config.DefaultJoinConfig()
	cfg.CodeRetries = 0
	wsHub := hub.NewHub()
	notifier := services.MultiNotifier{wsHub, services.NewNotificationStore(db)}
	coord := services.NewJoinCoordinator(db, services.NewDBTableRegistry(db), notifier, clock, cfg)

	r := router.SetupRouter(router.Dependencies{
		DB:          db,
		Coordinator: coord,
		Hub:         wsHub,
		RateLimiter: limiter,
		CORSOrigins: []string{"*"},
	})
	return &testApp{t: t, db: db, router: r, clock: clock}
}

func staffToken(t *testing.T, staffID, role, merchantID string) string {
	t.Helper()
	token, err := utils.GenerateToken(staffID, role, merchantID, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testApp) do(method, path string, body interface{}, token string) (*httptest.ResponseRecorder, apiResponse) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func decode(t *testing.T, raw json.RawMessage, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, into))
}

// createAndAccept drives a request from one table to another through accept
// and returns the allocated session.
func (a *testApp) createAndAccept(from, to uint) models.JoinSession {
	a.t.Helper()
	w, resp := a.do(http.MethodPost, "/join-requests", gin.H{
		"from_table_id": from,
		"to_table_id":   to,
		"template_type": "available_now",
	}, "")
	require.Equal(a.t, http.StatusCreated, w.Code, resp.Message)
	var req models.JoinRequest
	decode(a.t, resp.Data, &req)

	w, resp = a.do(http.MethodPost, "/join-requests/"+req.ID+"/respond", gin.H{
		"table_id": to,
		"action":   "accept",
	}, "")
	require.Equal(a.t, http.StatusOK, w.Code, resp.Message)
	var result struct {
		Request models.JoinRequest `json:"request"`
		Session models.JoinSession `json:"session"`
	}
	decode(a.t, resp.Data, &result)
	return result.Session
}
