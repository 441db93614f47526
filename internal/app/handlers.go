package app

import (
	"github.com/solforge/netmon/internal/alert"
	"github.com/valyala/fasthttp"
)

func (s *Server) routes() {
	s.router.GET("/v1/dashboard", s.handleDashboard)
	s.router.GET("/v1/metrics/{key}", s.handleMetrics)
	s.router.GET("/v1/export", s.handleExport)
	s.router.GET("/v1/alerts", s.handleAlerts)
	s.router.GET("/v1/alerts/rules", s.handleListRules)
	s.router.POST("/v1/alerts/rules", s.handleAddRule)
	s.router.DELETE("/v1/alerts/rules/{id}", s.handleRemoveRule)
	s.router.GET("/v1/events", s.handleEvents)
}

func (s *Server) handleDashboard(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, s.mon.GetDashboardData())
}

func (s *Server) handleMetrics(ctx *fasthttp.RequestCtx) {
	key, _ := ctx.UserValue("key").(string)
	if key == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing metric key")
		return
	}

	limit := ctx.QueryArgs().GetUintOrZero("limit")
	if limit <= 0 {
		limit = 100
	}

	writeJSON(ctx, fasthttp.StatusOK, s.mon.GetMetrics(key, limit))
}

func (s *Server) handleExport(ctx *fasthttp.RequestCtx) {
	b, err := s.mon.ExportData()
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(b)
}

func (s *Server) handleAlerts(ctx *fasthttp.RequestCtx) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	if limit <= 0 {
		limit = 50
	}
	writeJSON(ctx, fasthttp.StatusOK, s.mon.RecentAlerts(limit))
}

func (s *Server) handleListRules(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, s.mon.AlertRules())
}

func (s *Server) handleAddRule(ctx *fasthttp.RequestCtx) {
	var rule alert.Rule
	if err := json.Unmarshal(ctx.PostBody(), &rule); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	if rule.Name == "" || rule.Condition == "" || rule.Operator == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "name, condition and operator are required")
		return
	}

	writeJSON(ctx, fasthttp.StatusCreated, s.mon.AddAlertRule(rule))
}

func (s *Server) handleRemoveRule(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if !s.mon.RemoveAlertRule(id) {
		writeError(ctx, fasthttp.StatusNotFound, "rule not found")
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
