package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"deepresearch/internal/engine"
	"deepresearch/internal/store"
)

// ResearchRequest starts a pipeline run.
type ResearchRequest struct {
	Query string `json:"query"`
}

// ResearchResponse is the blocking run result.
type ResearchResponse struct {
	Query       string `json:"query"`
	Brief       string `json:"brief"`
	FinalReport string `json:"final_report"`
	Degraded    bool   `json:"degraded"`
}

// TopicResearchResponse is the standalone researcher result.
type TopicResearchResponse struct {
	Topic           string  `json:"topic"`
	Facts           int     `json:"facts"`
	ProgressQuality float64 `json:"progress_quality"`
	Compressed      string  `json:"compressed"`
}

// ResearchHandler serves pipeline runs and fact queries.
type ResearchHandler struct {
	Master   *engine.MasterPipeline
	Research *engine.ResearcherEngine
	Facts    store.FactStore
	Logger   *log.Logger
	Timeout  time.Duration
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.run)
	g.GET("/research/stream", h.stream)
	g.POST("/research/topic", h.topic)
	g.GET("/facts", h.facts)
	g.GET("/facts/search", h.searchFacts)
	g.GET("/facts/stats", h.stats)
}

func (h *ResearchHandler) runContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := c.Request().Context()
	if h.Timeout > 0 {
		return context.WithTimeout(ctx, h.Timeout)
	}
	return context.WithCancel(ctx)
}

func (h *ResearchHandler) run(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx, cancel := h.runContext(c)
	defer cancel()

	s, err := h.Master.Run(ctx, req.Query, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	return c.JSON(http.StatusOK, ResearchResponse{
		Query:       s.UserQuery,
		Brief:       s.ResearchBrief,
		FinalReport: s.FinalReport,
		Degraded:    s.NeedsRepair,
	})
}

// stream relays pipeline statuses as server-sent events, one status per
// data frame, ending with the final report.
func (h *ResearchHandler) stream(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx, cancel := h.runContext(c)
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	for line := range h.Master.RunStream(ctx, query) {
		if _, err := fmt.Fprintf(res, "data: %s\n\n", line); err != nil {
			return nil
		}
		res.Flush()
	}
	_, _ = fmt.Fprint(res, "event: done\ndata: \n\n")
	res.Flush()
	return nil
}

// topic runs the standalone researcher loop for one topic.
func (h *ResearchHandler) topic(c echo.Context) error {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	ctx, cancel := h.runContext(c)
	defer cancel()

	s, facts, err := h.Research.Research(ctx, req.Topic, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	return c.JSON(http.StatusOK, TopicResearchResponse{
		Topic:           req.Topic,
		Facts:           len(facts),
		ProgressQuality: engine.ProgressQuality(s),
		Compressed:      s.CompressedResearch,
	})
}

func (h *ResearchHandler) facts(c echo.Context) error {
	facts, err := h.Facts.GetAllFacts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, facts)
}

func (h *ResearchHandler) searchFacts(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	facts, err := h.Facts.Search(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, facts)
}

func (h *ResearchHandler) stats(c echo.Context) error {
	stats, err := h.Facts.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// QueriesHandler manages standing queries for the scheduler.
type QueriesHandler struct {
	Store  *store.PostgresStore
	Logger *log.Logger
}

func (h *QueriesHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
}

func (h *QueriesHandler) create(c echo.Context) error {
	var req struct {
		Query    string `json:"query"`
		CronSpec string `json:"cron_spec"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" || req.CronSpec == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query and cron_spec are required")
	}
	userID, _ := c.Get("user_id").(string)
	id, err := h.Store.CreateStandingQuery(c.Request().Context(), userID, req.Query, req.CronSpec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *QueriesHandler) list(c echo.Context) error {
	queries, err := h.Store.ListStandingQueries(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, queries)
}
