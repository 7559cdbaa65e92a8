package api

import (
	"context"
	"errors"
	"net/http"

	models "MoverPull/internal/domain/models"
	"MoverPull/internal/service/massive"
	"MoverPull/internal/service/ratelimit"
	"MoverPull/pkg/config"
	xhttp "MoverPull/pkg/http"
	xlogger "MoverPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

type MoversReader interface {
	Latest(ctx context.Context, n int) ([]models.MoverItem, error)
}

type IngestRunner interface {
	IngestLatest(ctx context.Context) (*models.IngestResult, error)
	Backfill(ctx context.Context, endDate string, days int) (*models.BackfillReport, error)
}

// MoversEchoHandler serves the stored movers and the manual ingest trigger.
type MoversEchoHandler struct {
	logger  *xlogger.Logger
	movers  MoversReader
	ingest  IngestRunner
	limiter *ratelimit.Limiter
}

func NewMoversEchoHandler(logger *xlogger.Logger, movers MoversReader, ingest IngestRunner, limiter *ratelimit.Limiter) *MoversEchoHandler {
	return &MoversEchoHandler{logger: logger.Named("movers_api"), movers: movers, ingest: ingest, limiter: limiter}
}

func (h *MoversEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/movers", h.Movers)
	g.POST("/ingest", h.Ingest)
}

// Movers serves GET /api/movers?limit=7, newest date first.
func (h *MoversEchoHandler) Movers(c echo.Context) error {
	req := &models.MoversRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	items, err := h.movers.Latest(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("movers usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("mover store unavailable").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=300")
	return xhttp.ListResponse(c, items, int64(len(items)))
}

// Ingest serves POST /api/ingest with {"mode":"latest"} or {"mode":"window","end_date":"2024-10-11","days":7}
func (h *MoversEchoHandler) Ingest(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("ingest trigger rate exceeded"))
	}

	req := &models.IngestTrigger{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	if req.Mode == "window" {
		report, err := h.ingest.Backfill(ctx, req.EndDate, req.Days)
		if err != nil {
			h.logger.Error("backfill trigger failed", xlogger.String("end_date", req.EndDate), xlogger.Error(err))
			appErr := ingestError(err)
			if report != nil {
				appErr.WithParam("report", report)
			}
			return xhttp.AppErrorResponse(c, appErr)
		}
		return xhttp.SuccessResponse(c, report)
	}

	res, err := h.ingest.IngestLatest(ctx)
	if err != nil {
		h.logger.Error("ingest trigger failed", xlogger.Error(err))
		appErr := ingestError(err)
		if res != nil {
			appErr.WithParam("result", res)
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	status := http.StatusOK
	if res.Stored {
		status = http.StatusCreated
	}
	return xhttp.DataResponse(c, status, res)
}

func ingestError(err error) *xhttp.AppError {
	var (
		cfgErr  *config.ConfigError
		histErr *models.InsufficientHistoryError
		fetch   *massive.FetchError
		noData  *massive.NoDataError
	)
	switch {
	case errors.As(err, &cfgErr):
		return xhttp.ServiceUnavailableError("upstream credential unavailable").WithError(err)
	case errors.As(err, &histErr):
		return xhttp.NewAppError("ERR_INSUFFICIENT_HISTORY", "end_date", histErr.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, models.ErrIncompleteBatch):
		return xhttp.BadGatewayError("one or more symbols failed, nothing was stored").WithError(err)
	case errors.As(err, &fetch), errors.As(err, &noData):
		return xhttp.BadGatewayError(err.Error()).WithError(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.ServiceUnavailableError("ingest interrupted").WithError(err)
	default:
		return xhttp.InternalError("ingest failed").WithError(err)
	}
}
