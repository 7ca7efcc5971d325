package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/session"
)

// Options configures the router.
type Options struct {
	// AllowedOrigins of the UI. Empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
	// Remote, when set, is served under /remote so other terminals can
	// use this process as their remote store.
	Remote *remote.Handler
}

// NewRouter mounts every endpoint for s.
func NewRouter(s *session.Session, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &Handler{session: s, logger: logger}
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Post("/sync", h.Sync)

	r.Get("/catalog", h.Catalog)
	r.Get("/products/{id}/variants", h.ProductVariants)
	r.Get("/deals/{id}/products", h.DealProducts)

	r.Route("/tables", func(r chi.Router) {
		r.Get("/", h.ListTables)
		r.Post("/{id}/status", h.SetTableStatus)
	})

	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.SearchCustomers)
		r.Post("/resolve", h.ResolveCustomer)
	})

	r.Route("/carts/{type}", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Put("/", h.SaveCart)
		r.Delete("/", h.ClearCart)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/", h.PlaceOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/status", h.UpdateOrderStatus)
			r.Post("/customer", h.SetOrderCustomer)
			r.Post("/items/{line}/quantity", h.UpdateItemQuantity)
			r.Post("/paid", h.MarkPaid)
			r.Get("/payments", h.ListPayments)
			r.Post("/payments", h.RecordPayments)
		})
	})

	if opts.Remote != nil {
		r.Route("/remote", opts.Remote.RegisterRoutes)
	}
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
