package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) createBrief(c echo.Context) error {
	var req BriefRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	art, err := s.briefer.Run(c.Request().Context(), query)
	if err != nil {
		return err
	}
	if sub, ok := SubjectFromContext(c.Request().Context()); ok {
		s.logger.Info("brief served", zap.String("run_id", art.RunID), zap.String("subject", sub))
	}
	return c.JSON(http.StatusOK, BriefResponse{Artifact: art, Rendered: art.Render()})
}
