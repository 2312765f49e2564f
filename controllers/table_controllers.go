package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/services"
	"github.com/yeremiapane/table-join/utils"
	"gorm.io/gorm"
)

// TableController maintains the table registry the join coordinator reads
// table identity from.
type TableController struct {
	DB          *gorm.DB
	Coordinator *services.JoinCoordinator
}

func NewTableController(db *gorm.DB, coordinator *services.JoinCoordinator) *TableController {
	return &TableController{DB: db, Coordinator: coordinator}
}

// CreateTable -> register a table for a merchant
func (tc *TableController) CreateTable(c *gin.Context) {
	var req struct {
		MerchantID  string `json:"merchant_id" binding:"required,max=64"`
		TableNumber string `json:"table_number" binding:"required,max=50"`
		Status      string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if !canAccessMerchant(c, req.MerchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	table := models.Table{
		MerchantID:  req.MerchantID,
		TableNumber: req.TableNumber,
		Status:      "available",
	}
	if req.Status != "" {
		table.Status = req.Status
	}

	if err := tc.DB.Create(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("New table created: %s (merchant=%s)", table.TableNumber, table.MerchantID)
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

// GetAllTables -> tables of a merchant, optionally filtered by status
func (tc *TableController) GetAllTables(c *gin.Context) {
	q := tc.DB.Order("id ASC")
	if merchantID := c.Query("merchant_id"); merchantID != "" {
		q = q.Where("merchant_id = ?", merchantID)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var tables []models.Table
	if err := q.Find(&tables).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// GetTableByID
func (tc *TableController) GetTableByID(c *gin.Context) {
	tableID, ok := parseTableID(c)
	if !ok {
		return
	}
	var table models.Table
	if err := tc.DB.First(&table, tableID).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table detail", table)
}

// UpdateTable -> rename or change the status of a table
func (tc *TableController) UpdateTable(c *gin.Context) {
	tableID, ok := parseTableID(c)
	if !ok {
		return
	}
	var body struct {
		TableNumber string `json:"table_number" binding:"max=50"`
		Status      string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	var table models.Table
	if err := tc.DB.First(&table, tableID).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	if !canAccessMerchant(c, table.MerchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	if body.TableNumber != "" {
		table.TableNumber = body.TableNumber
	}
	if body.Status != "" {
		table.Status = body.Status
	}
	if err := tc.DB.Save(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Table %d updated (status=%s)", table.ID, table.Status)
	utils.RespondJSON(c, http.StatusOK, "Table updated", table)
}

// DeleteTable -> remove a table that is not part of any join
func (tc *TableController) DeleteTable(c *gin.Context) {
	tableID, ok := parseTableID(c)
	if !ok {
		return
	}
	var table models.Table
	if err := tc.DB.First(&table, tableID).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	if !canAccessMerchant(c, table.MerchantID) {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	if err := tc.Coordinator.RemoveTable(c.Request.Context(), table.ID); err != nil {
		respondJoinError(c, err, nil)
		return
	}

	utils.InfoLogger.Printf("Table %d deleted", table.ID)
	utils.RespondJSON(c, http.StatusOK, "Table deleted", gin.H{
		"id": table.ID,
	})
}
