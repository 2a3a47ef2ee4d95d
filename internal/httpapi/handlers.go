package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/archive"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/export"
	"github.com/rodcar/agentic-software-factory/internal/logging"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

// maxSearchResults caps the k query parameter on archive search.
const maxSearchResults = 20

// MessageRequest is the request body for POST /api/v1/sessions/:id/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// DocumentResponse is the response body for GET /api/v1/sessions/:id/documents/:kind.
type DocumentResponse struct {
	SessionID string           `json:"session_id"`
	Document  document.Version `json:"document"`
}

// SearchResponse is the response body for GET /api/v1/archive/search.
type SearchResponse struct {
	Query string        `json:"query"`
	Hits  []archive.Hit `json:"hits"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "specfactory"})
}

// handleMessage feeds a user turn into the session and returns the
// agent replies produced by it.
func (s *Server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	sessionID := c.Param("id")
	ctx := logging.WithSessionID(c.Request().Context(), sessionID)

	result, err := s.manager.Message(ctx, sessionID, req.Text)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// handleSession returns the current snapshot of a session.
func (s *Server) handleSession(c echo.Context) error {
	sessionID := c.Param("id")
	ctx := logging.WithSessionID(c.Request().Context(), sessionID)

	snap, err := s.manager.Get(ctx, sessionID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, snap)
}

// handleCloseSession closes a session and drops its in-flight state.
// Approved artifacts stay in the document store.
func (s *Server) handleCloseSession(c echo.Context) error {
	sessionID := c.Param("id")
	ctx := logging.WithSessionID(c.Request().Context(), sessionID)

	if err := s.manager.CloseSession(ctx, sessionID); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// handleDocument returns the current version of a session artifact.
func (s *Server) handleDocument(c echo.Context) error {
	kind, err := document.ParseKind(c.Param("kind"))
	if err != nil {
		return httpError(err)
	}

	sessionID := c.Param("id")
	ctx := logging.WithSessionID(c.Request().Context(), sessionID)

	v, err := s.store.Current(ctx, sessionID, kind)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, DocumentResponse{SessionID: sessionID, Document: *v})
}

// handleExport renders the current version of an artifact in a
// download-friendly format. The format query parameter selects
// markdown (default), raw stored content, or csv for test plans.
func (s *Server) handleExport(c echo.Context) error {
	kind, err := document.ParseKind(c.Param("kind"))
	if err != nil {
		return httpError(err)
	}

	format := c.QueryParam("format")
	if format == "" {
		format = "markdown"
	}

	sessionID := c.Param("id")
	ctx := logging.WithSessionID(c.Request().Context(), sessionID)

	v, err := s.store.Current(ctx, sessionID, kind)
	if err != nil {
		return httpError(err)
	}

	switch format {
	case "markdown":
		return c.Blob(http.StatusOK, "text/markdown; charset=UTF-8", []byte(export.RenderDocument(kind, v.Content)))
	case "raw":
		return c.Blob(http.StatusOK, "text/plain; charset=UTF-8", []byte(v.Content))
	case "csv":
		if kind != document.KindTestPlan {
			return echo.NewHTTPError(http.StatusBadRequest, "csv export is only available for test plans")
		}
		out, err := export.TestPlanCSV(v.Content)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%s_test_plan_v%d.csv", sessionID, v.ID))
		return c.Blob(http.StatusOK, "text/csv; charset=UTF-8", []byte(out))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
	}
}

// handleArchiveSearch searches approved artifacts by semantic
// similarity. Requires an archive backend to be configured.
func (s *Server) handleArchiveSearch(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "archive is not configured")
	}

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q query parameter is required")
	}

	k := 5
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = parsed
	}
	if k > maxSearchResults {
		k = maxSearchResults
	}

	hits, err := s.archive.Search(c.Request().Context(), query, k)
	if err != nil {
		s.logger.Error("archive search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "archive search failed")
	}
	if hits == nil {
		hits = []archive.Hit{}
	}

	return c.JSON(http.StatusOK, SearchResponse{Query: query, Hits: hits})
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, document.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, document.ErrUnknownKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrTooManySessions):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrManagerClosed),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, document.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
