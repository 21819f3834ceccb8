// Package httpapi is the thin HTTP adapter spec §6 calls the "inspection
// collaborator": program symbols, job submission and polling, value
// resolve, store listing and per-node inspection, store-page inspection,
// and capability discovery. It is a read/dispatch shell over the
// Resolver, Job Manager, Content Store and Operator Registry — it holds no
// domain logic of its own.
package httpapi

import (
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/job"
	"github.com/voxlogica-project/voxlogica2/registry"
	"github.com/voxlogica-project/voxlogica2/resolver"
	"github.com/voxlogica-project/voxlogica2/store"
)

// Server wires the core components into HTTP handlers. It is built once by
// the composition root and registered against an echo.Group.
type Server struct {
	resolver       *resolver.Resolver
	jobs           *job.Manager
	store          store.Store
	registry       *registry.Registry
	runtimeVersion string

	mu       sync.RWMutex
	workplan *dag.Workplan // the currently loaded program, set via SetWorkplan
}

// New builds a Server. res, jobs and st must be non-nil; reg may be nil if
// capability discovery is not needed.
func New(res *resolver.Resolver, jobs *job.Manager, st store.Store, reg *registry.Registry, runtimeVersion string) *Server {
	return &Server{resolver: res, jobs: jobs, store: st, registry: reg, runtimeVersion: runtimeVersion}
}

// SetWorkplan installs wp as the currently loaded program. Reduction
// (parsing + the Reducer) happens outside this package; this is how the
// composition root hands the result to the HTTP surface.
func (s *Server) SetWorkplan(wp *dag.Workplan) {
	s.mu.Lock()
	s.workplan = wp
	s.mu.Unlock()
}

func (s *Server) currentWorkplan() *dag.Workplan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workplan
}

// RegisterRoutes adds every inspection resource to an Echo group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/symbols", s.handleListSymbols)

	g.POST("/jobs", s.handleSubmitJob)
	g.GET("/jobs", s.handleListJobs)
	g.GET("/jobs/:id", s.handleGetJob)
	g.POST("/jobs/:id/kill", s.handleKillJob)

	g.POST("/resolve", s.handleResolve)

	g.GET("/store", s.handleListStore)
	g.GET("/store/:nodeId", s.handleGetNode)
	g.GET("/store/:nodeId/page", s.handleGetNodePage)

	g.GET("/capabilities", s.handleCapabilities)
}
