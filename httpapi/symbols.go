package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// symbol is one program goal exposed for inspection: its label, kind
// ("print"/"save") and the NodeId it resolves to.
type symbol struct {
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	NodeID string `json:"node_id"`
}

// handleListSymbols reports the currently loaded program's goals (spec §6
// "program symbols").
func (s *Server) handleListSymbols(c echo.Context) error {
	wp := s.currentWorkplan()
	if wp == nil {
		return c.JSON(http.StatusNotFound, errorBody("no program loaded"))
	}
	goals := wp.Goals()
	out := make([]symbol, 0, len(goals))
	for _, g := range goals {
		out = append(out, symbol{Label: g.Label, Kind: string(g.Kind), NodeID: string(g.Target)})
	}
	return c.JSON(http.StatusOK, out)
}
