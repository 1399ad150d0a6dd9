package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/alerts"
	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/bitcoin"
	"github.com/rawblock/fundflow-engine/internal/db"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// DroppedHeader reports how many submitted records failed normalization.
const DroppedHeader = "X-Dropped-Transactions"

// analyzeRequest is the body shared by every POST /analyze* route.
type analyzeRequest struct {
	Address      string                  `json:"address" binding:"required"`
	Transactions []models.RawTransaction `json:"transactions"`
	Language     string                  `json:"language"`
}

// bindRequest decodes and normalizes the body. Records that fail
// normalization are skipped and counted in DroppedHeader.
func (h *APIHandler) bindRequest(c *gin.Context) (analysis.Request, bool) {
	var body analyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return analysis.Request{}, false
	}
	txs, dropped := models.NormalizeAll(body.Transactions)
	if dropped > 0 {
		c.Header(DroppedHeader, strconv.Itoa(dropped))
		h.logger.Info("dropped malformed transactions",
			zap.String("address", body.Address),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(txs)))
	}
	return analysis.Request{Address: body.Address, Transactions: txs, Language: body.Language}, true
}

func (h *APIHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis cancelled", "details": err.Error()})
		return
	}
	h.logger.Error("analysis failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed", "details": err.Error()})
}

// publish persists the report and raises an alert when it qualifies.
// Neither failure affects the response.
func (h *APIHandler) publish(ctx context.Context, r *analysis.Report) {
	if err := h.store.SaveReport(ctx, r); err != nil {
		h.logger.Warn("failed to save report", zap.String("id", r.ID), zap.Error(err))
	}
	if h.alerts == nil {
		return
	}
	if _, err := h.alerts.Notify(ctx, r); err != nil {
		h.logger.Warn("alert delivery incomplete", zap.String("id", r.ID), zap.Error(err))
	}
}

// ─── Service info ───────────────────────────────────────────────────

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	streamClients := 0
	if h.hub != nil {
		streamClients = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "operational",
		"engine":   "fundflow-engine",
		"patterns": len(h.engine.Catalog().Patterns),
		"capabilities": gin.H{
			"languages":       []string{"en", "ja"},
			"bitcoin":         h.btc != nil,
			"alerts":          h.alerts != nil,
			"persistentStore": h.persistent,
		},
		"streamClients": streamClients,
	})
}

func (h *APIHandler) handlePatterns(c *gin.Context) {
	cat := h.engine.Catalog()
	c.JSON(http.StatusOK, gin.H{
		"patterns":    cat.Patterns,
		"riskWeights": cat.RiskWeights,
	})
}

// ─── Analysis ───────────────────────────────────────────────────────

// handleAnalyze runs the full pipeline.
// POST /api/v1/analyze { "address": "0x..", "transactions": [...], "language": "ja" }
func (h *APIHandler) handleAnalyze(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	report, err := h.engine.Analyze(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c.Request.Context(), report)
	c.JSON(http.StatusOK, report)
}

func (h *APIHandler) handleAnalyzePatterns(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	patterns, err := h.engine.DetectPatterns(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":  models.NormalizeAddress(req.Address),
		"patterns": patterns,
		"count":    len(patterns),
	})
}

func (h *APIHandler) handleAnalyzeAnomalies(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	result, err := h.engine.DetectAnomalies(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) handleAnalyzeRisk(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	result, err := h.engine.AssessRisk(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleAnalyzeNarrative returns only the written report. The full
// pipeline still runs because every section depends on earlier stages.
func (h *APIHandler) handleAnalyzeNarrative(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	report, err := h.engine.Analyze(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":     report.Address,
		"language":    report.Language,
		"riskLevel":   report.RiskAssessment.RiskLevel,
		"narrative":   report.Narrative,
		"keyFindings": report.KeyFindings,
		"events":      report.Events,
	})
}

// ─── Reports & alerts ───────────────────────────────────────────────

func (h *APIHandler) handleGetReport(c *gin.Context) {
	report, err := h.store.GetReport(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load report", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load report", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleListReports lists stored reports, newest first.
// GET /api/v1/reports?address=0x..&limit=20
func (h *APIHandler) handleListReports(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	reports, err := h.store.ListReports(c.Request.Context(), c.Query("address"), limit)
	if err != nil {
		h.logger.Error("failed to list reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list reports", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reports, "count": len(reports)})
}

func (h *APIHandler) handleRecentAlerts(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	recent := []alerts.Alert{}
	if h.alerts != nil {
		recent = h.alerts.Recent(limit)
	}
	c.JSON(http.StatusOK, gin.H{"data": recent, "count": len(recent)})
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	return limit, true
}

// ─── Bitcoin ────────────────────────────────────────────────────────

// handleBitcoinAddress pulls the address history from the node and runs
// the full pipeline on it.
// GET /api/v1/bitcoin/:address?lang=ja
func (h *APIHandler) handleBitcoinAddress(c *gin.Context) {
	if h.btc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Bitcoin RPC not configured"})
		return
	}

	address := c.Param("address")
	txs, err := h.btc.AddressHistory(c.Request.Context(), address, h.btcLimit)
	if errors.Is(err, bitcoin.ErrInvalidAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bitcoin address", "details": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("bitcoin history fetch failed", zap.String("address", address), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch history from node", "details": err.Error()})
		return
	}

	report, err := h.btcEngine.Analyze(c.Request.Context(), analysis.Request{
		Address:      address,
		Transactions: txs,
		Language:     c.Query("lang"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c.Request.Context(), report)
	c.JSON(http.StatusOK, report)
}
