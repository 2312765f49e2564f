package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/table-join/hub"
	"github.com/yeremiapane/table-join/middlewares"
	"github.com/yeremiapane/table-join/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSController struct {
	Hub *hub.Hub
}

func NewWSController(h *hub.Hub) *WSController {
	return &WSController{Hub: h}
}

// StaffJoins -> staff screen receives every join event of a merchant
func (wc *WSController) StaffJoins(c *gin.Context) {
	merchantID := c.Query("merchant_id")
	role := c.GetString(middlewares.CtxRole)
	if merchantID == "" && role != "admin" {
		merchantID = c.GetString(middlewares.CtxMerchantID)
	}
	if !canAccessMerchant(c, merchantID) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	wc.Hub.Serve(ws, hub.Subscription{MerchantID: merchantID, Role: role})
}

// TableJoins -> guest screen receives the events that involve its table
func (wc *WSController) TableJoins(c *gin.Context) {
	tableID, ok := parseTableID(c)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	wc.Hub.Serve(ws, hub.Subscription{TableID: tableID, Role: "guest"})
}
