package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caseflowhq/casechat/internal/chatbot"
	"github.com/caseflowhq/casechat/internal/session"
	"github.com/caseflowhq/casechat/internal/telemetry"
)

// ChatHandler serves the chat pipeline and its supporting lookups.
type ChatHandler struct {
	Orch      *chatbot.Orchestrator
	Store     chatbot.SearchStore
	Sessions  session.Store
	Telemetry *telemetry.Telemetry
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.GET("/filters", h.filters)
	g.GET("/stats", h.stats)
}

type chatRequest struct {
	Query          string      `json:"query"`
	SessionID      string      `json:"session_id,omitempty"`
	Filters        chatFilters `json:"filters"`
	EnableCompound *bool       `json:"enable_compound,omitempty"`
}

type chatFilters struct {
	DateStart string   `json:"date_start,omitempty"`
	DateEnd   string   `json:"date_end,omitempty"`
	Theme     string   `json:"theme,omitempty"`
	Brands    []string `json:"brands,omitempty"`
}

type chatResponse struct {
	chatbot.QueryResponse
	SessionID string `json:"session_id"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx := c.Request().Context()

	sessionID, err := h.Sessions.EnsureSession(ctx, req.SessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var history []chatbot.Message
	if turns, err := h.Sessions.Recent(ctx, sessionID, 0); err == nil {
		for _, t := range turns {
			history = append(history, chatbot.Message{Role: t.Role, Content: t.Content})
		}
	}

	filters := chatbot.UIFilters{
		DateStart: req.Filters.DateStart,
		DateEnd:   req.Filters.DateEnd,
		Theme:     req.Filters.Theme,
		Brands:    req.Filters.Brands,
	}
	resp, err := h.Orch.ProcessQuery(ctx, req.Query, filters, req.EnableCompound, history...)
	if err != nil {
		// The UI always gets an answer shape; the failure detail goes to
		// the error log via the echo handler.
		c.Logger().Error(err)
		resp = chatbot.QueryResponse{
			Response:   "I ran into a problem while searching the case data. Please try again.",
			CasesFound: 0,
			QueryType:  "error",
			Sources:    []chatbot.Citation{},
		}
	}

	now := time.Now()
	_ = h.Sessions.Append(ctx, sessionID,
		session.Turn{Role: "user", Content: req.Query, At: now},
		session.Turn{Role: "assistant", Content: resp.Response, At: now},
	)

	return c.JSON(http.StatusOK, chatResponse{QueryResponse: resp, SessionID: sessionID})
}

func (h *ChatHandler) filters(c echo.Context) error {
	themes, brands, err := h.Orch.AvailableFilters(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if themes == nil {
		themes = []string{}
	}
	if brands == nil {
		brands = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"themes": themes, "brands": brands})
}

type statsResponse struct {
	CaseCount int             `json:"case_count"`
	Themes    map[string]int  `json:"themes"`
	Brands    map[string]int  `json:"brands"`
	DateRange *statsDateRange `json:"date_range,omitempty"`
	Pipeline  telemetry.Stats `json:"pipeline"`
}

type statsDateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// dateRanger is implemented by both case stores; declared separately so the
// pipeline contract stays free of reporting concerns.
type dateRanger interface {
	DateRange(ctx context.Context) (string, string, error)
}

func (h *ChatHandler) stats(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.Store.CaseCount(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	themes, err := h.Store.CountGroupedBy(ctx, "theme")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	brands, err := h.Store.CountGroupedBy(ctx, "brand")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := statsResponse{
		CaseCount: count,
		Themes:    themes,
		Brands:    brands,
		Pipeline:  h.Telemetry.Snapshot(),
	}
	if dr, ok := h.Store.(dateRanger); ok {
		start, end, err := dr.DateRange(ctx)
		if err == nil && start != "" {
			resp.DateRange = &statsDateRange{Start: start, End: end}
		}
	}
	return c.JSON(http.StatusOK, resp)
}
