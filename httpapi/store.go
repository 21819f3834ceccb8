package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/voxlogica-project/voxlogica2/descriptor"
	"github.com/voxlogica-project/voxlogica2/store"
)

// storeListItem is the listing-row shape for GET /store: enough to browse
// without forcing a decode of every payload.
type storeListItem struct {
	NodeID         string `json:"node_id"`
	RuntimeVersion string `json:"runtime_version"`
	Status         string `json:"status"`
	PayloadBytes   int64  `json:"payload_bytes"`
}

// handleListStore lists records, optionally filtered by ?status=&prefix=,
// capped by ?limit= (spec §6 "store listing").
func (s *Server) handleListStore(c echo.Context) error {
	filter := store.Filter{
		Status:     store.Status(c.QueryParam("status")),
		NodePrefix: c.QueryParam("prefix"),
	}
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	recs, err := s.store.Iter(c.Request().Context(), filter, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	out := make([]storeListItem, 0, len(recs))
	for _, r := range recs {
		out = append(out, storeListItem{
			NodeID:         r.NodeID,
			RuntimeVersion: r.RuntimeVersion,
			Status:         string(r.Status),
			PayloadBytes:   r.PayloadBytes,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// handleGetNode inspects one node: its record metadata plus a root-path
// descriptor (spec §6 "per-node inspection").
func (s *Server) handleGetNode(c echo.Context) error {
	rec, ok := s.recordOrNotFound(c)
	if !ok {
		return nil
	}
	path, offset, size := parsePageParams(c)
	desc := descriptor.Build(rec, path, offset, size)
	return c.JSON(http.StatusOK, map[string]any{
		"record":     storeListItem{NodeID: rec.NodeID, RuntimeVersion: rec.RuntimeVersion, Status: string(rec.Status), PayloadBytes: rec.PayloadBytes},
		"descriptor": desc,
	})
}

// handleGetNodePage returns a windowed descriptor page for a sequence or
// mapping value, navigated by ?path= and windowed by ?offset=&size= (spec
// §6 "store-page inspection", spec §4.7 pagination).
func (s *Server) handleGetNodePage(c echo.Context) error {
	rec, ok := s.recordOrNotFound(c)
	if !ok {
		return nil
	}
	path, offset, size := parsePageParams(c)
	if size <= 0 {
		size = descriptor.DefaultPageSize
	}
	return c.JSON(http.StatusOK, descriptor.Build(rec, path, offset, size))
}

// recordOrNotFound fetches the node named by the :nodeId path parameter
// under the runtime version the Server was configured with, writing a 404
// response itself when absent (ok reports whether the caller should
// continue).
func (s *Server) recordOrNotFound(c echo.Context) (store.Record, bool) {
	nodeID := c.Param("nodeId")
	rec, err := s.store.Get(c.Request().Context(), nodeID, s.runtimeVersion)
	if errors.Is(err, store.ErrNotFound) {
		_ = c.JSON(http.StatusNotFound, errorBody("node not found"))
		return store.Record{}, false
	}
	if err != nil {
		_ = c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return store.Record{}, false
	}
	return rec, true
}
