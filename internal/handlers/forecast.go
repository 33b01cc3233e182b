package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"purrcast/internal/services"
)

type Forecaster interface {
	GetForecast(ctx context.Context, q services.ForecastQuery) (services.ForecastResult, error)
}

type ForecastHandler struct {
	forecasts Forecaster
	log       logrus.FieldLogger
}

func NewForecastHandler(forecasts Forecaster, log logrus.FieldLogger) *ForecastHandler {
	return &ForecastHandler{forecasts: forecasts, log: log.WithField("handler", "forecast")}
}

// Get handles GET /forecast?state=&city=&timezone_offset=&scope=
func (h *ForecastHandler) Get(c *gin.Context) {
	state, err := requiredID(c.Query("state"), "state")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	city, err := requiredID(c.Query("city"), "city")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	offset, err := optionalInt(c.Query("timezone_offset"), "timezone_offset")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	scope, err := services.ParseScope(c.Query("scope"))
	if err != nil {
		RenderError(c, h.log, err)
		return
	}

	res, err := h.forecasts.GetForecast(c.Request.Context(), services.ForecastQuery{
		State:          state,
		City:           city,
		TimezoneOffset: offset,
		Scope:          scope,
	})
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
