package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const REQUEST_TIMEOUT = 2 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/inputs/:name", s.CurrentDataHandler)
	e.POST("/republish", s.RepublishHandler)
	e.POST("/republish/:name", s.RepublishHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// CurrentDataHandler returns the whole field table of one input.
func (s *Server) CurrentDataHandler(c echo.Context) error {
	name := c.Param("name")
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetCurrentDataRequest{Input: name}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetCurrentDataResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		if errors.Is(response.GetResponseError(), domain.ErrUnknownInput) {
			return echo.NewHTTPError(http.StatusNotFound, response.GetResponseError().Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response.Fields)
}

func (s *Server) RepublishHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.RepublishRequest{Input: c.Param("name")}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.RepublishResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		if errors.Is(response.GetResponseError(), domain.ErrUnknownInput) {
			return echo.NewHTTPError(http.StatusNotFound, response.GetResponseError().Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusAccepted, map[string]int{"inputs": response.Inputs})
}
