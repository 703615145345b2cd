package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/newsbrief/models"
)

func (s *Server) listMemory(c echo.Context) error {
	snap, err := s.memory.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TopicMemory, 0, len(snap))
	for _, t := range s.vocab {
		if keys, ok := snap[t]; ok {
			out = append(out, TopicMemory{Topic: t, Keys: keys})
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) topicMemory(c echo.Context) error {
	topic := models.NormalizeTopic(c.Param("topic"))
	if !s.vocab.Contains(topic) {
		return echo.NewHTTPError(http.StatusNotFound, models.ErrTopicNotFound.Error())
	}
	keys, err := s.memory.Recent(c.Request().Context(), topic)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, TopicMemory{Topic: topic, Keys: keys})
}

func (s *Server) clearMemory(c echo.Context) error {
	if err := s.memory.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
