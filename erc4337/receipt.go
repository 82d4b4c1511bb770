package erc4337

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type WaitOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
		BackoffFactor:   1.5,
	}
}

// WaitForUserOperationReceipt polls the bundler with exponential backoff until a
// receipt shows up or ctx ends. Polling errors are logged and retried; the
// operation itself is never resubmitted.
func WaitForUserOperationReceipt(ctx context.Context, b Bundler, userOpHash common.Hash, opts WaitOptions) (*UserOperationReceipt, error) {
	log := zerolog.Ctx(ctx).With().Str("userOpHash", userOpHash.Hex()).Logger()

	if opts.InitialInterval <= 0 {
		opts = DefaultWaitOptions()
	}
	interval := opts.InitialInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		receipt, err := b.GetUserOperationReceipt(ctx, userOpHash)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("failed to poll user operation receipt")
		}
		if receipt != nil {
			log.Debug().Int("attempt", attempt).Bool("success", receipt.Success).Msg("user operation included")
			return receipt, nil
		}

		timer.Reset(interval)
		interval = time.Duration(float64(interval) * opts.BackoffFactor)
		if opts.MaxInterval > 0 && interval > opts.MaxInterval {
			interval = opts.MaxInterval
		}
	}
}
