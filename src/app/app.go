package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/handler"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/approval"
	"github.com/batua/wallet/src/service/credential"
	"github.com/batua/wallet/src/service/price"
	"github.com/batua/wallet/src/service/provider"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/batua/wallet/src/service/simulate"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type Application struct {
	config       AppConfig
	closeStorage func() error

	Registry      *prometheus.Registry
	Events        *handler.EventHub
	Internal      *wallet.Internal
	Authenticator *credential.RemoteAuthenticator
	Resolver      *resolver.Resolver
	Factory       *smartaccount.Factory
	Simulator     *simulate.Simulator
	Provider      *provider.Provider
	Approvals     *approval.Service
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	storage, closeStorage, err := openStorage(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	app := &Application{
		config:       config,
		closeStorage: closeStorage,
		Registry:     prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewWalletMetrics(app.Registry)

	allowed := lo.SliceToMap(*config.AllowOrigins, func(origin string) (string, struct{}) {
		return origin, struct{}{}
	})
	app.Events = handler.NewEventHub(ctx, func(origin string) bool {
		_, ok := allowed[origin]
		return ok
	})

	walletConfig := config.WalletConfig()
	walletConfig.Storage = storage
	walletConfig = walletConfig.WithDefaults()

	st := store.New(ctx, store.Options{
		Storage: walletConfig.Storage,
		Name:    walletConfig.StorageName,
		Initial: store.State{Chain: walletConfig.Chains[0]},
	})
	app.Internal = wallet.NewInternal(walletConfig, st)

	app.Authenticator = credential.NewRemoteAuthenticator(app.Events, *config.AuthenticatorTimeout)
	manager, err := credential.NewManager(credential.Config{
		RPID:          *config.RPID,
		RPDisplayName: *config.RPDisplayName,
		RPOrigins:     *config.RPOrigins,
		KernelVersion: *config.KernelVersion,
	}, app.Authenticator)
	if err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("creation of credential manager failed: %w", err)
	}
	app.Internal.SetImplementation(manager)

	priceManager := price.NewCoingecko(ctx, price.CoingeckoConfig{
		URL:      *config.CoingeckoURL,
		Interval: *config.PriceRefreshInterval,
		Metrics:  recorder,
	})
	app.Internal.SetPriceManager(priceManager)

	app.Resolver = resolver.New(app.Internal)
	app.Factory = smartaccount.NewFactory(app.Internal, app.Resolver, recorder)

	app.Simulator, err = simulate.New(ctx, simulate.Options{Metrics: recorder})
	if err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("creation of simulator failed: %w", err)
	}

	app.Provider = provider.New(ctx, app.Internal, provider.Deps{
		Clients:   app.Factory,
		Bundlers:  app.Resolver,
		Publisher: app.Events,
		Metrics:   recorder,
	})
	app.Approvals = approval.New(app.Internal, approval.Deps{
		Provider:        app.Provider,
		Clients:         app.Factory,
		Simulator:       app.Simulator,
		RefreshInterval: *config.RefreshInterval,
	})

	app.Events.SetSnapshot(app.snapshot)

	logger.Info().
		Str("instance", app.Internal.ID).
		Str("storage", *config.StorageDriver).
		Uint64("chain", walletConfig.Chains[0].ID).
		Msg("Wallet instance created")

	return app, nil
}

// snapshot is what a freshly connected page needs to catch up.
func (app *Application) snapshot() []domain.Event {
	var events []domain.Event
	if app.Internal.Config.ShouldAnnounce() {
		events = append(events, domain.Event{Type: domain.EventAnnounceProvider, Payload: app.Provider.AnnounceDetail()})
	}

	state := app.Internal.Store.GetState()
	events = append(events,
		domain.Event{Type: domain.EventChainChanged, Payload: hexutil.EncodeUint64(state.Chain.ID)},
		domain.Event{Type: domain.EventAccountsChanged, Payload: lo.Map(state.Accounts, func(account domain.Account, _ int) common.Address {
			return account.Address
		})},
		domain.Event{Type: domain.EventQueueChanged, Payload: app.Provider.Queue()},
	)
	for _, prompt := range app.Authenticator.Pending() {
		events = append(events, domain.Event{Type: domain.EventAuthenticatorPrompt, Payload: prompt})
	}
	return events
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	if app.Approvals != nil {
		app.Approvals.Close()
	}
	if app.Provider != nil {
		app.Provider.Destroy()
	}
	// tears down the credential manager and the price job
	if app.Internal != nil {
		app.Internal.Destroy()
		app.Internal.Store.Destroy()
	}
	if app.Simulator != nil {
		if err := app.Simulator.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close simulator")
		}
	}
	if app.Factory != nil {
		app.Factory.Close()
	}
	if app.Resolver != nil {
		app.Resolver.Close()
	}

	if app.closeStorage != nil {
		if err := app.closeStorage(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		} else {
			logger.Info().Msg("Storage closed")
		}
	}
}

func (app *Application) Router(ctx context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(ctx, router, handler.Routes{
		Provider:      app.Provider,
		Approvals:     app.Approvals,
		Authenticator: app.Authenticator,
		Events:        app.Events,
		Gatherer:      app.Registry,
		AllowOrigins:  *app.config.AllowOrigins,
		APISecret:     *app.config.APISecret,
	})
	return router
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: app.Router(ctx),
	}

	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

// RunEventHub keeps websocket clients open until ctx ends.
func (app *Application) RunEventHub(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunEventHub").Logger()
	logger.Info().Msg("Starting event hub")

	app.Events.Run(ctx)

	logger.Info().Msg("Event hub stopped")
}
