package handler

import (
	"context"
	"reflect"

	"github.com/batua/wallet/src/service/approval"
	"github.com/batua/wallet/src/service/credential"
	"github.com/batua/wallet/src/service/provider"
	"github.com/batua/wallet/src/walletrpc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Routes holds what the HTTP surface serves. Authenticator and Gatherer are
// optional; their routes are skipped when nil.
type Routes struct {
	Provider      *provider.Provider
	Approvals     *approval.Service
	Authenticator *credential.RemoteAuthenticator
	Events        *EventHub
	Gatherer      prometheus.Gatherer

	AllowOrigins []string
	// APISecret guards the wallet-side routes when set.
	APISecret string
}

func registerValidators(ctx context.Context) {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if value, ok := field.Interface().(decimal.Decimal); ok {
			return value.String()
		}
		return nil
	}, decimal.Decimal{})
	if err := walletrpc.RegisterTags(v); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to register binding validators")
	}
}

func RegisterRoutes(ctx context.Context, router *gin.Engine, routes Routes) {
	registerValidators(ctx)

	if len(routes.AllowOrigins) > 0 {
		config := cors.DefaultConfig()
		config.AllowOrigins = routes.AllowOrigins
		config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret"}
		config.AllowCredentials = true
		router.Use(cors.New(config))
	}

	SetMiddlewares(ctx, router)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if routes.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{})))
	}

	rpcHandler := NewRPCHandler(routes.Provider)
	router.POST("/rpc", rpcHandler.Request)

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(routes.Provider, routes.Events)
		v1.GET("/health", healthHandler.HandleHealthCheck)
		if routes.Events != nil {
			v1.GET("/events", routes.Events.ServeWS)
		}

		wallet := v1.Group("")
		if routes.APISecret != "" {
			wallet.Use(SharedSecretMiddleware(routes.APISecret))
		}

		queueHandler := NewQueueHandler(routes.Provider)
		wallet.GET("/queue", queueHandler.GetQueue)
		wallet.GET("/queue/head", queueHandler.GetHead)
		wallet.POST("/queue/:id/resolve", queueHandler.Resolve)

		if routes.Approvals != nil {
			approvalHandler := NewApprovalHandler(routes.Approvals)
			wallet.POST("/approvals/:id", approvalHandler.Open)
			wallet.POST("/approvals/:id/confirm", approvalHandler.Confirm)
			wallet.DELETE("/approvals/:id", approvalHandler.Reject)
		}

		if routes.Authenticator != nil {
			authenticatorHandler := NewAuthenticatorHandler(routes.Authenticator)
			wallet.GET("/authenticator", authenticatorHandler.ListPrompts)
			wallet.POST("/authenticator/:promptId", authenticatorHandler.Respond)
		}
	}
}
