package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curtaincall-app/curtaincall-backend/api/controllers"
	"github.com/curtaincall-app/curtaincall-backend/api/middleware"
	"github.com/curtaincall-app/curtaincall-backend/pkg/config"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
)

// NewRouter wires the venue asset API. pingers feed the readiness endpoint;
// a nil entry marks the dependency as not configured.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	assetsService controllers.AssetsService,
	pingers map[string]controllers.Pinger,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/venues/{venueId}/assets", func(r chi.Router) {
		r.Post("/single", controllers.CreateSingleAsset(assetsService, logg))
		r.Post("/screen", controllers.CreateScreenAssets(assetsService, logg))
		r.Get("/", controllers.GetAssets(assetsService, logg))
		r.Get("/summary", controllers.GetAssetSummary(assetsService, logg))

		r.Route("/{entryId}", func(r chi.Router) {
			r.Patch("/", controllers.UpdateAssetEntry(assetsService, logg))
			r.Delete("/", controllers.DeleteAssetEntry(assetsService, logg))

			r.Post("/seats", controllers.AppendScreenSeats(assetsService, logg))
			r.Patch("/seats/{seatId}", controllers.UpdateScreenSeat(assetsService, logg))
			r.Delete("/seats/{seatId}", controllers.DeleteScreenSeat(assetsService, logg))
		})
	})

	r.Route("/api/v1/scan", func(r chi.Router) {
		r.Post("/{venueId}/{entryId}", controllers.RecordScan(assetsService, logg))
		r.Post("/{venueId}/{entryId}/{seatId}", controllers.RecordScan(assetsService, logg))
	})

	return r
}
