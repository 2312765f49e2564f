package router

import (
	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-join/controllers"
	"github.com/yeremiapane/table-join/hub"
	"github.com/yeremiapane/table-join/middlewares"
	"github.com/yeremiapane/table-join/services"
	"gorm.io/gorm"
)

// Dependencies are the shared services the routes are built on.
type Dependencies struct {
	DB          *gorm.DB
	Coordinator *services.JoinCoordinator
	Hub         *hub.Hub
	RateLimiter *middlewares.RateLimiter
	CORSOrigins []string
}

func SetupRouter(d Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(d.CORSOrigins...))
	r.Use(middlewares.LoggerMiddleware())

	controllers.RegisterValidators()

	joinCtrl := controllers.NewJoinController(d.Coordinator)
	tableCtrl := controllers.NewTableController(d.DB, d.Coordinator)
	notificationCtrl := controllers.NewNotificationController(d.DB)
	wsCtrl := controllers.NewWSController(d.Hub)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Guest routes. Table identity comes from the screen registered at the
	// table, so these are only rate limited.
	guest := r.Group("/")
	if d.RateLimiter != nil {
		guest.Use(d.RateLimiter.RateLimit())
	}
	{
		guest.GET("/tables", tableCtrl.GetAllTables)
		guest.GET("/tables/:table_id", tableCtrl.GetTableByID)
		guest.GET("/tables/:table_id/join-requests/incoming", joinCtrl.IncomingRequests)
		guest.GET("/tables/:table_id/join-status", joinCtrl.TableStatus)

		guest.POST("/join-requests", joinCtrl.CreateRequest)
		guest.GET("/join-requests/:request_id", joinCtrl.GetRequest)
		guest.POST("/join-requests/:request_id/respond", joinCtrl.RespondRequest)
		guest.POST("/join-requests/:request_id/cancel", joinCtrl.CancelRequest)

		guest.GET("/join-sessions/:session_id", joinCtrl.GetSession)
		guest.POST("/join-sessions/:session_id/leave", joinCtrl.LeaveSession)
	}

	r.GET("/ws/tables/:table_id", wsCtrl.TableJoins)
	r.GET("/ws/joins", middlewares.WebSocketAuthMiddleware(), wsCtrl.StaffJoins)

	// Staff routes
	auth := r.Group("/admin")
	auth.Use(middlewares.AuthMiddleware())
	{
		auth.POST("/join-sessions/:session_id/confirm", joinCtrl.ConfirmSession)
		auth.POST("/join-sessions/:session_id/end", joinCtrl.EndSession)
		auth.POST("/join-requests/:request_id/cancel", joinCtrl.StaffCancelRequest)

		auth.GET("/merchants/:merchant_id/join-sessions/by-code/:code", joinCtrl.FindSessionByCode)
		auth.GET("/merchants/:merchant_id/joins/active", joinCtrl.ListActive)
		auth.GET("/merchants/:merchant_id/joins/stats", joinCtrl.Stats)
		auth.GET("/merchants/:merchant_id/notifications", notificationCtrl.GetMerchantNotifications)
		auth.PATCH("/notifications/:notif_id/read", notificationCtrl.MarkNotificationRead)

		auth.GET("/tables", tableCtrl.GetAllTables)
		auth.POST("/tables", middlewares.RequireRoles("manager"), tableCtrl.CreateTable)
		auth.PATCH("/tables/:table_id", middlewares.RequireRoles("manager", "staff"), tableCtrl.UpdateTable)
		auth.DELETE("/tables/:table_id", middlewares.RequireRoles("manager"), tableCtrl.DeleteTable)

		auth.POST("/joins/sweep", middlewares.RequireRoles("admin"), joinCtrl.Sweep)
	}

	return r
}
