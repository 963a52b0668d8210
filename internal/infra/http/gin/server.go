package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"venuebook/internal/infra/config"
	"venuebook/internal/infra/obs"
)

type BookingHTTP interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	Cancel(c *gin.Context)
	Transactions(c *gin.Context)
	ListMine(c *gin.Context)
}

type HostBookingHTTP interface {
	List(c *gin.Context)
	Select(c *gin.Context)
	Reject(c *gin.Context)
}

type PaymentsHTTP interface {
	PaymeRPC(c *gin.Context)
	ClickPrepare(c *gin.Context)
	ClickComplete(c *gin.Context)
}

type Handlers struct {
	Booking        BookingHTTP
	HostBooking    HostBookingHTTP
	Payments       PaymentsHTTP
	AuthMiddleware gin.HandlerFunc
	Metrics        gin.HandlerFunc
	MetricsHandler http.Handler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg.Env, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine. Provider callbacks live outside /api/v1
// and skip bearer authentication; they carry their own credentials.
func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	if h.Metrics != nil {
		router.Use(h.Metrics)
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(h.MetricsHandler))
	}

	if h.Payments != nil {
		payments := router.Group("/payments")
		payments.POST("/payme", h.Payments.PaymeRPC)
		payments.POST("/click/prepare", h.Payments.ClickPrepare)
		payments.POST("/click/complete", h.Payments.ClickComplete)
	}

	api := router.Group("/api/v1")
	if h.AuthMiddleware != nil {
		api.Use(h.AuthMiddleware)
	}
	if h.Booking != nil {
		api.POST("/bookings", h.Booking.Create)
		api.GET("/bookings/:id", h.Booking.Get)
		api.POST("/bookings/:id/cancel", h.Booking.Cancel)
		api.GET("/bookings/:id/transactions", h.Booking.Transactions)
		api.GET("/me/bookings", h.Booking.ListMine)
	}
	if h.HostBooking != nil {
		hostGroup := api.Group("/host/bookings")
		hostGroup.GET("", h.HostBooking.List)
		hostGroup.POST("/:id/select", h.HostBooking.Select)
		hostGroup.POST("/:id/reject", h.HostBooking.Reject)
	}

	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
