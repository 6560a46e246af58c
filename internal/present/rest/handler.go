package rest

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/internal/domain"
	"github.com/atgeo/checkind/internal/lexicon"
	"github.com/atgeo/checkind/internal/present/rest/presenter"
	"github.com/atgeo/checkind/internal/usecase"
)

type Handler struct {
	registry *usecase.RegistryUsecase
	checkins *usecase.CheckinUsecase
	follows  *usecase.FollowUsecase
	crawler  *usecase.CrawlerUsecase
}

func NewHandler(
	registry *usecase.RegistryUsecase,
	checkins *usecase.CheckinUsecase,
	follows *usecase.FollowUsecase,
	crawler *usecase.CrawlerUsecase,
) *Handler {
	return &Handler{
		registry: registry,
		checkins: checkins,
		follows:  follows,
		crawler:  crawler,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.POST("/api/v1/users", h.handleRegister)
	e.DELETE("/api/v1/users/:did", h.handleRemove)
	e.GET("/api/v1/users/:did/follows", h.handleListFollows)
	e.GET("/api/v1/users/:did/checkins/:rkey", h.handleGetUserCheckin)
	e.GET("/api/v1/checkins", h.handleListCheckins)
	e.GET("/api/v1/checkins/:uri", h.handleGetCheckin)
	e.GET("/api/v1/lexicons", h.handleListLexicons)
	e.POST("/api/v1/admin/crawl", h.handleCrawl)
	e.POST("/api/v1/admin/crawl/follows", h.handleCrawlFollows)
	e.POST("/api/v1/admin/backfill", h.handleBackfill)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type registerRequest struct {
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	ServerURL string `json:"serverUrl"`
}

func (h *Handler) handleRegister(c echo.Context) error {
	ctx := c.Request().Context()

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	if err := h.registry.Register(ctx, req.DID, req.Handle, req.ServerURL); err != nil {
		var consistency domain.ConsistencyError
		if errors.As(err, &consistency) {
			return presenter.InternalError(c, err)
		}
		return presenter.BadRequest(c, err)
	}

	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleRemove(c echo.Context) error {
	ctx := c.Request().Context()

	did := c.Param("did")
	if err := h.registry.Remove(ctx, did); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "tracked repo not found")
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleListCheckins(c echo.Context) error {
	ctx := c.Request().Context()

	author := c.QueryParam("author")

	limit := 20
	limitStr := c.QueryParam("limit")
	if limitStr != "" {
		limitInt, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = limitInt
	}

	checkins, err := h.checkins.List(ctx, author, limit)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, checkins)
}

func (h *Handler) handleGetCheckin(c echo.Context) error {
	ctx := c.Request().Context()

	escaped := c.Param("uri")
	uri, err := url.QueryUnescape(escaped)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid uri")
	}

	checkin, err := h.checkins.Get(ctx, uri)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "checkin not found")
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, checkin)
}

func (h *Handler) handleListFollows(c echo.Context) error {
	ctx := c.Request().Context()

	edges, err := h.follows.List(ctx, c.Param("did"))
	if err != nil {
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, edges)
}

// handleGetUserCheckin looks up a check-in by its (repo, rkey) pair instead
// of a percent-encoded AT URI.
func (h *Handler) handleGetUserCheckin(c echo.Context) error {
	ctx := c.Request().Context()

	uri := checkind.ComposeATURI(c.Param("did"), checkind.CollectionCheckin, c.Param("rkey"))
	checkin, err := h.checkins.Get(ctx, uri)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "checkin not found")
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, checkin)
}

type lexiconInfo struct {
	SchemaID  string `json:"schemaId"`
	SourceTag string `json:"sourceTag"`
}

func (h *Handler) handleListLexicons(c echo.Context) error {
	adapters := lexicon.Registry()
	infos := make([]lexiconInfo, 0, len(adapters))
	for _, a := range adapters {
		infos = append(infos, lexiconInfo{SchemaID: a.SchemaID, SourceTag: a.SourceTag})
	}
	return presenter.OK(c, infos)
}

func (h *Handler) handleCrawl(c echo.Context) error {
	ctx := c.Request().Context()

	summary, err := h.crawler.RunCheckinSession(ctx)
	if err != nil {
		if errors.Is(err, usecase.ErrSessionRunning) {
			return presenter.Conflict(c, err.Error())
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, summary)
}

func (h *Handler) handleCrawlFollows(c echo.Context) error {
	ctx := c.Request().Context()

	summary, err := h.crawler.RunFollowSession(ctx)
	if err != nil {
		if errors.Is(err, usecase.ErrSessionRunning) {
			return presenter.Conflict(c, err.Error())
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, summary)
}

func (h *Handler) handleBackfill(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	limitStr := c.QueryParam("limit")
	if limitStr != "" {
		limitInt, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = limitInt
	}

	summary, err := h.crawler.BackfillAddresses(ctx, limit)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, summary)
}
