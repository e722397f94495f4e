package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/modules/changes/presentation/controllers"
	"github.com/fleetyard/shipcm/modules/changes/services"
	"github.com/fleetyard/shipcm/pkg/configuration"
	"github.com/fleetyard/shipcm/pkg/httpapi"
	"github.com/fleetyard/shipcm/pkg/middleware"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Pool          *pgxpool.Pool
	Workflow      *services.WorkflowService
	Reconcile     *services.ReconcileService
}

// Default assembles the HTTP server: middleware stack, API controllers,
// health and metrics endpoints.
func Default(options *DefaultOptions) (*http.Server, error) {
	r := mux.NewRouter()

	r.Use(
		middleware.ProvideLogger(options.Logger),
		middleware.ProvidePool(options.Pool),
	)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_ = httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if options.Configuration.Prometheus.Enabled {
		r.Handle(options.Configuration.Prometheus.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(middleware.ProvideIdentity(
		options.Configuration.UserIDHeader,
		options.Configuration.UserRoleHeader,
	))
	controller := controllers.NewChangesAPIController(
		options.Workflow,
		options.Reconcile,
		services.ContextIdentityProvider{},
	)
	controller.Register(api)

	return &http.Server{
		Addr:              options.Configuration.SocketAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}, nil
}
