package price

import (
	"context"
	"fmt"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/wallet"
	gocron "github.com/go-co-op/gocron/v2"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultCoingeckoURL    = "https://api.coingecko.com/api/v3/simple/price"
	DefaultRefreshInterval = 5 * time.Minute
)

type CoingeckoConfig struct {
	URL        string
	Interval   time.Duration
	HTTPClient *resty.Client
	Metrics    metrics.Recorder
}

// Coingecko refreshes the ETH/USD price into the store on a fixed interval
// while it is set up.
type Coingecko struct {
	ctx      context.Context
	url      string
	interval time.Duration
	http     *resty.Client
	metrics  metrics.Recorder
}

var _ wallet.PriceManager = (*Coingecko)(nil)

// NewCoingecko builds the manager. ctx carries the logger used by the refresh
// job.
func NewCoingecko(ctx context.Context, cfg CoingeckoConfig) *Coingecko {
	c := &Coingecko{
		ctx:      ctx,
		url:      cfg.URL,
		interval: cfg.Interval,
		http:     cfg.HTTPClient,
		metrics:  metrics.OrNoop(cfg.Metrics),
	}
	if c.url == "" {
		c.url = DefaultCoingeckoURL
	}
	if c.interval <= 0 {
		c.interval = DefaultRefreshInterval
	}
	if c.http == nil {
		c.http = resty.New().SetTimeout(10 * time.Second)
	}
	return c
}

func (c *Coingecko) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "price").Logger()
	return &l
}

// Setup starts the refresh job. The first refresh runs immediately.
func (c *Coingecko) Setup(internal *wallet.Internal) func() {
	ctx, cancel := context.WithCancel(c.ctx)
	logger := c.logger(ctx)

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		logger.Error().Err(err).Msg("failed to create price scheduler")
		cancel()
		return func() {}
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(func() {
			if err := c.Refresh(ctx, internal.Store); err != nil {
				logger.Warn().Err(err).Msg("failed to refresh eth price")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule price refresh")
		cancel()
		_ = scheduler.Shutdown()
		return func() {}
	}
	scheduler.Start()
	logger.Info().Dur("interval", c.interval).Msg("price refresh started")

	return func() {
		cancel()
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop price scheduler")
		}
	}
}

type simplePriceResponse map[string]map[string]decimal.Decimal

// Refresh fetches the current price and stores it.
func (c *Coingecko) Refresh(ctx context.Context, st *store.Store) error {
	value, err := c.fetch(ctx)
	if err != nil {
		c.metrics.IncPriceRefresh("failed")
		return err
	}
	st.SetState(func(s store.State) store.State {
		s.Price = &domain.Price{Value: value, FetchedAt: time.Now()}
		return s
	})
	c.metrics.IncPriceRefresh("ok")
	return nil
}

func (c *Coingecko) fetch(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"ids":           "ethereum",
			"vs_currencies": "usd",
		}).
		SetResult(&simplePriceResponse{}).
		Get(c.url)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("coingecko request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return decimal.Decimal{}, fmt.Errorf("coingecko returned status %d: %s", resp.StatusCode(), resp.String())
	}
	result := *resp.Result().(*simplePriceResponse)
	value, ok := result["ethereum"]["usd"]
	if !ok || !value.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("invalid price data from coingecko: %s", resp.String())
	}
	return value, nil
}

// Static pins the price to a fixed value.
type Static struct {
	Value decimal.Decimal
}

var _ wallet.PriceManager = Static{}

func (p Static) Setup(internal *wallet.Internal) func() {
	internal.Store.SetState(func(s store.State) store.State {
		s.Price = &domain.Price{Value: p.Value, FetchedAt: time.Now()}
		return s
	})
	return func() {}
}
