// Command voxlogicad wires the core components (store, registry, engine,
// job manager, resolver, descriptor builder) into one process and exposes
// them over the HTTP inspection surface (spec §6). Parsing and reduction of
// a concrete program is an external collaborator's job (spec §1); this
// binary exists to show the components composed together, not to be a CLI
// front-end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/voxlogica-project/voxlogica2/emit"
	"github.com/voxlogica-project/voxlogica2/engine"
	"github.com/voxlogica-project/voxlogica2/httpapi"
	"github.com/voxlogica-project/voxlogica2/job"
	"github.com/voxlogica-project/voxlogica2/registry"
	"github.com/voxlogica-project/voxlogica2/resolver"
	"github.com/voxlogica-project/voxlogica2/store"
)

func main() {
	var (
		listenAddr     = flag.String("listen", ":8080", "HTTP listen address")
		storeBackend   = flag.String("store", "memory", "content store backend: memory, sqlite, mysql")
		storeDSN       = flag.String("store-dsn", "voxlogica.db", "sqlite file path or mysql DSN")
		jobLogDir      = flag.String("job-log-dir", "./job-logs", "directory for per-job JSONL event logs")
		maxRetained    = flag.Int("max-retained-jobs", 256, "bounded job table retention (spec §4.8 FIFO eviction)")
		jobTailSize    = flag.Int("job-log-tail", 200, "bounded in-memory per-job event tail")
		maxConcurrent  = flag.Int("max-concurrent-jobs", 4, "maximum jobs dispatched to the engine concurrently")
		runtimeVersion = flag.String("runtime-version", "1", "store compatibility version (spec §6 'Runtime version')")
	)
	flag.Parse()

	st, err := openStore(*storeBackend, *storeDSN)
	if err != nil {
		log.Fatalf("voxlogicad: opening store: %v", err)
	}
	defer st.Close()

	reg := registry.New() // real primitives are registered by the operator library collaborator (spec §6)

	promReg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promReg)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)
	tracingEmitter := emit.NewOTelEmitter(tp.Tracer("voxlogicad"))

	jobs := job.NewManager(*jobLogDir, *maxRetained, *jobTailSize, *maxConcurrent)

	eng, err := engine.New(st, reg,
		engine.WithEmitter(emit.NewMultiEmitter(jobs, tracingEmitter)),
		engine.WithMetrics(metrics),
		engine.WithRuntimeVersion(*runtimeVersion),
		engine.WithMaxConcurrent(*maxConcurrent),
	)
	if err != nil {
		log.Fatalf("voxlogicad: constructing engine: %v", err)
	}
	jobs.Attach(eng)

	res := resolver.New(st, jobs, *runtimeVersion)
	srv := httpapi.New(res, jobs, st, reg, *runtimeVersion)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv.RegisterRoutes(e.Group("/api"))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	log.Printf("voxlogicad: listening on %s (store=%s runtime_version=%s)", *listenAddr, *storeBackend, *runtimeVersion)
	e.Logger.Fatal(e.Start(*listenAddr))
}

func openStore(backend, dsn string) (store.Store, error) {
	switch backend {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(dsn)
	case "mysql":
		return store.NewMySQLStore(dsn)
	default:
		return nil, fmt.Errorf("voxlogicad: unknown store backend %q", backend)
	}
}
