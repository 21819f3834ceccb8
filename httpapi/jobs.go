package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleSubmitJob enqueues the currently loaded program's Workplan as an
// "execute" job and returns its id immediately (spec §4.8 "enqueues and
// schedules asynchronously").
func (s *Server) handleSubmitJob(c echo.Context) error {
	wp := s.currentWorkplan()
	if wp == nil {
		return c.JSON(http.StatusNotFound, errorBody("no program loaded"))
	}
	id, err := s.jobs.Submit(wp)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": id})
}

// handleListJobs lists retained jobs, optionally filtered by ?kind=.
func (s *Server) handleListJobs(c echo.Context) error {
	kind := c.QueryParam("kind")
	return c.JSON(http.StatusOK, s.jobs.List(kind))
}

// handleGetJob polls a single job's current record (spec §4.8 "polling").
func (s *Server) handleGetJob(c echo.Context) error {
	rec, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("job not found"))
	}
	return c.JSON(http.StatusOK, rec)
}

// handleKillJob cooperatively cancels a job; in-flight nodes are allowed to
// finish (spec §4.5).
func (s *Server) handleKillJob(c echo.Context) error {
	rec, ok := s.jobs.Kill(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("job not found"))
	}
	return c.JSON(http.StatusOK, rec)
}
