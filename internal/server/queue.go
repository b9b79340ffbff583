package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// drain runs one inline queue pass. ?limit= overrides queue.max_per_run and
// zero means no limit.
func (s *Server) drain(c echo.Context) error {
	limit := s.opts.MaxPerRun
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	res, err := s.drainer.ProcessQueue(c.Request().Context(), limit, s.now())
	if err != nil {
		return fmt.Errorf("process queue: %w", err)
	}
	return c.JSON(http.StatusOK, res)
}
