package httpapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

// capabilities is the capability-discovery response: every registered
// operator name plus the runtime version records are keyed under (spec §6
// "capability discovery", §4.9 "Runtime version").
type capabilities struct {
	RuntimeVersion string   `json:"runtime_version"`
	Operators      []string `json:"operators"`
}

func (s *Server) handleCapabilities(c echo.Context) error {
	var names []string
	if s.registry != nil {
		names = s.registry.Names()
		sort.Strings(names)
	}
	return c.JSON(http.StatusOK, capabilities{RuntimeVersion: s.runtimeVersion, Operators: names})
}
