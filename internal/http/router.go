package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// AuthSessions is the session surface the router needs; *auth.Manager satisfies it.
type AuthSessions interface {
	Sessions
	SessionResolver
}

// Metrics instruments requests and exposes the scrape endpoint.
type Metrics interface {
	StreamObserver
	Instrument(next http.Handler) http.Handler
	Handler() http.Handler
}

type RouterConfig struct {
	RequestTimeout  time.Duration
	MaxRequestBody  int64
	AllowedOrigins  []string
	CookieSecure    bool
	AuthRatePerSec  float64
	AuthRateBurst   int
	ServiceName     string
	DisableTracing  bool
	DisableCompress bool
}

type Deps struct {
	Catalog  Catalog
	Carts    Carts
	Sessions AuthSessions
	Events   EventSource
	Orders   Orders
	Metrics  Metrics
	Log      logrus.FieldLogger
}

func NewRouter(cfg RouterConfig, d Deps) http.Handler {
	cookies := CookieConfig{Secure: cfg.CookieSecure}

	products := NewProductHandler(d.Catalog, cfg.RequestTimeout)
	carts := NewCartHandler(d.Carts, cfg.RequestTimeout)
	profile := NewProfileHandler(d.Sessions, cfg.RequestTimeout)
	orders := NewOrdersHandler(d.Orders, cfg.RequestTimeout)

	var observer StreamObserver
	if d.Metrics != nil {
		observer = d.Metrics
	}
	authH := NewAuthHandler(d.Sessions, d.Events, observer, cookies, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(WithLogger(d.Log))
	r.Use(logging.RequestLogger(d.Log))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument)
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.MaxRequestBody > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBody))
	}
	r.Use(ProfileMiddleware(cookies))
	r.Use(SessionMiddleware(d.Sessions, cookies))
	r.Use(RequireSession(ProtectedPaths))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Get("/auth/login", LoginRedirect)

	limiter := NewRateLimiter(cfg.AuthRatePerSec, cfg.AuthRateBurst)

	r.Route("/api/v1", func(r chi.Router) {
		// long-lived; must not sit behind the request timeout
		r.Get("/auth/events", authH.Events)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			if !cfg.DisableCompress {
				r.Use(middleware.Compress(5))
			}

			r.Get("/categories", products.ListCategories)
			r.Route("/products", func(r chi.Router) {
				r.Get("/", products.ListProducts)
				r.Get("/slugs", products.ListSlugs)
				r.Get("/by-id/{id}", products.GetProductByID)
				r.Get("/{slug}", products.GetProduct)
			})

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", carts.GetCart)
				r.Delete("/", carts.ClearCart)
				r.Post("/lines", carts.AddLine)
				r.Put("/lines/{key}", carts.UpdateQuantity)
				r.Delete("/lines/{key}", carts.RemoveLine)
			})

			r.Route("/auth", func(r chi.Router) {
				r.With(limiter.Handler).Post("/signup", authH.SignUp)
				r.With(limiter.Handler).Post("/signin", authH.SignIn)
				r.Post("/signout", authH.SignOut)
				r.Get("/session", authH.GetSession)
			})

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profile.GetProfile)
				r.Put("/email", profile.UpdateEmail)
				r.Put("/password", profile.UpdatePassword)
			})

			r.Get("/orders", orders.ListOrders)
		})
	})

	if cfg.DisableTracing {
		return r
	}
	name := cfg.ServiceName
	if name == "" {
		name = "storefront"
	}
	return otelhttp.NewHandler(r, name)
}
