package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pickup-bot/internal/logger"
	"pickup-bot/internal/repository"
	"pickup-bot/internal/service"
)

// Services are the backends exposed to operators.
type Services struct {
	Orders        *service.OrderService
	Digest        *service.DigestService
	Subscriptions *service.SubscriptionService
	Users         *repository.UserRepository
}

// NewRouter builds the operator API. Every route except /ping requires token.
func NewRouter(svc Services, token string, log *logger.Logger) *gin.Engine {
	log = logger.OrNop(log)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(recovery(log))
	r.Use(requestID())
	r.Use(accessLog(log))

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, codeMethod, "method not allowed")
	})

	h := &handler{orders: svc.Orders, digest: svc.Digest, subs: svc.Subscriptions, users: svc.Users}

	r.GET("/ping", h.ping)

	authGroup := r.Group("/")
	authGroup.Use(bearerAuth(token))
	authGroup.GET("/orders/pending", h.pendingOrders)
	authGroup.POST("/orders/:id/status", h.setOrderStatus)
	authGroup.GET("/digest", h.pendingDigest)
	authGroup.GET("/users/:id/subscriptions", h.userSubscriptions)
	authGroup.POST("/subscriptions/:id/deactivate", h.deactivateSubscription)
	return r
}
