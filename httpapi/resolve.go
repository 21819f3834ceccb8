package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/resolver"
)

// resolveBody is the JSON request shape for POST /resolve. Exactly one of
// NodeID/Variable should be set; Enqueue selects cached-lookup (false, the
// default) versus enqueue-and-wait (true) mode (spec §4.6 Contract).
type resolveBody struct {
	NodeID   string `json:"node_id"`
	Variable string `json:"variable"`
	Path     string `json:"path"`
	Offset   int    `json:"offset"`
	Size     int    `json:"size"`
	Enqueue  bool   `json:"enqueue"`
	NoCache  bool   `json:"no_cache"`
}

// handleResolve answers a single node's current materialization state,
// optionally enqueuing a single-node job when it is not yet available
// (spec §4.6).
func (s *Server) handleResolve(c echo.Context) error {
	var body resolveBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	req := resolver.Request{
		Workplan: s.currentWorkplan(),
		NodeID:   dag.NodeId(body.NodeID),
		Variable: body.Variable,
		Path:     body.Path,
		Offset:   body.Offset,
		Size:     body.Size,
		Enqueue:  body.Enqueue,
		NoCache:  body.NoCache,
	}

	resp, err := s.resolver.Resolve(c.Request().Context(), req)
	if err != nil {
		var rerr *resolver.ResolveError
		if errors.As(err, &rerr) && (errors.Is(rerr, resolver.ErrNoTarget) || errors.Is(rerr, resolver.ErrUnknownVariable)) {
			return c.JSON(http.StatusBadRequest, errorBody(rerr.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, resp)
}

// parsePageParams reads the shared ?path=&offset=&size= query parameters
// store inspection handlers accept.
func parsePageParams(c echo.Context) (path string, offset, size int) {
	path = c.QueryParam("path")
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	size, _ = strconv.Atoi(c.QueryParam("size"))
	return path, offset, size
}
