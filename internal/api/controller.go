// Package api serves the monitor results as read-only JSON.
package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"spread-monitor/internal/models"
	"spread-monitor/internal/monitor"
	"spread-monitor/internal/quotes"
	"spread-monitor/internal/scheduler"
	"spread-monitor/internal/store"
)

// ResultsSource is what the controller reads from. *monitor.Monitor
// satisfies it.
type ResultsSource interface {
	Strategies() []models.StrategySpec
	Results() *monitor.Results
	Cache() *quotes.Cache
	Scheduler() *scheduler.Scheduler
}

// ResultsController handles result endpoints
type ResultsController struct {
	source  ResultsSource
	history store.HistoryStore
}

// NewResultsController creates a new results controller. history may be nil.
func NewResultsController(source ResultsSource, history store.HistoryStore) *ResultsController {
	return &ResultsController{
		source:  source,
		history: history,
	}
}

// HandleHealth reports liveness and quote readiness
func (rc *ResultsController) HandleHealth(c *gin.Context) {
	st := rc.source.Cache().Status()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"quotesReady": st.Ready,
	})
}

// HandleQuoteStatus returns the quote cache freshness
func (rc *ResultsController) HandleQuoteStatus(c *gin.Context) {
	c.JSON(http.StatusOK, rc.source.Cache().Status())
}

// HandleSchedulerStatus returns every running refresh key
func (rc *ResultsController) HandleSchedulerStatus(c *gin.Context) {
	statuses := rc.source.Scheduler().Statuses()
	c.JSON(http.StatusOK, gin.H{
		"entries": statuses,
		"count":   len(statuses),
	})
}

// HandleListStrategies returns the watched strategies with their totals
func (rc *ResultsController) HandleListStrategies(c *gin.Context) {
	results := rc.source.Results()
	type row struct {
		ID      string   `json:"id"`
		Name    string   `json:"name,omitempty"`
		Legs    int      `json:"legs"`
		Forward *float64 `json:"forward"`
		Reverse *float64 `json:"reverse"`
		PnL     *float64 `json:"pnl"`
	}

	strategies := rc.source.Strategies()
	rows := make([]row, 0, len(strategies))
	for _, s := range strategies {
		r := row{ID: s.ID, Name: s.Name, Legs: len(s.Legs)}
		if snap, ok := results.Spread(s.ID); ok {
			if v, ok := snap.Forward.Value(); ok {
				r.Forward = &v
			}
			if v, ok := snap.Reverse.Value(); ok {
				r.Reverse = &v
			}
		}
		if summary, ok := results.Summary(s.ID); ok {
			total := summary.TotalPnL
			r.PnL = &total
		}
		rows = append(rows, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"strategies": rows,
		"count":      len(rows),
	})
}

// HandleGetSpread returns the latest spread snapshot of a strategy
func (rc *ResultsController) HandleGetSpread(c *gin.Context) {
	id := c.Param("id")

	snap, ok := rc.source.Results().Spread(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no spread computed for strategy " + id})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// HandleGetPnL returns the order results and summary of a strategy
func (rc *ResultsController) HandleGetPnL(c *gin.Context) {
	id := c.Param("id")
	results := rc.source.Results()

	byOrder, ok := results.PnL(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pnl computed for strategy " + id})
		return
	}
	summary, _ := results.Summary(id)

	orders := make([]models.PnLResult, 0, len(byOrder))
	for _, r := range byOrder {
		orders = append(orders, r)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })

	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"orders":  orders,
	})
}

// HandleGetHistory returns persisted snapshots of a strategy
func (rc *ResultsController) HandleGetHistory(c *gin.Context) {
	if rc.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "history is disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	filter := store.HistoryFilter{StrategyID: c.Param("id"), RunID: c.Query("run"), Limit: limit}
	ctx := c.Request.Context()

	spreads, err := rc.history.GetSpreadHistory(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pnls, err := rc.history.GetPnLHistory(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"spreads": spreads,
		"pnl":     pnls,
	})
}
