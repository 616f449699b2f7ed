package histdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/util"
)

// Compile-time interface check.
var _ BarSource = (*AlpacaSource)(nil)

// barsClient is the slice of the Alpaca market-data API the source uses.
type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaSource fetches daily bars from the Alpaca market-data API. Requests
// are batched and rate limited; each batch is retried on transient errors.
type AlpacaSource struct {
	client    barsClient
	batchSize int
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource configured with the given
// credentials, batch size, and requests-per-minute limit.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, batchSize, rateLimitPerMin int) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaSource{
		client:    marketdata.NewClient(opts),
		batchSize: max(batchSize, 1),
		limiter:   util.NewRateLimiter(rateLimitPerMin),
		log:       slog.Default().With("component", "alpaca-source"),
	}
}

// GetBarData fetches daily bars for every symbol, batched to respect API
// limits.
func (a *AlpacaSource) GetBarData(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.Bar, error) {
	result := make(map[string][]domain.Bar, len(symbols))

	for i := 0; i < len(symbols); i += a.batchSize {
		batch := symbols[i:min(i+a.batchSize, len(symbols))]

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limit: %w", err)
		}

		var multiBars map[string][]marketdata.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var err error
			multiBars, err = a.client.GetMultiBars(batch, marketdata.GetBarsRequest{
				TimeFrame: marketdata.OneDay,
				Start:     start,
				End:       end,
				Feed:      "sip",
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("GetMultiBars: %w", err)
		}

		for symbol, alpacaBars := range multiBars {
			symbol = strings.ToUpper(symbol)
			for _, ab := range alpacaBars {
				result[symbol] = append(result[symbol], domain.Bar{
					Symbol:     symbol,
					Timestamp:  ab.Timestamp,
					Open:       ab.Open,
					High:       ab.High,
					Low:        ab.Low,
					Close:      ab.Close,
					Volume:     int64(ab.Volume),
					TradeCount: int64(ab.TradeCount),
					VWAP:       ab.VWAP,
				})
			}
		}
		a.log.Info("batch fetched", "symbols", len(batch), "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
	}
	return result, nil
}

// GetBenchmarkData fetches daily bars for the benchmark symbol.
func (a *AlpacaSource) GetBenchmarkData(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	data, err := a.GetBarData(ctx, []string{symbol}, start, end)
	if err != nil {
		return nil, err
	}
	bars, ok := data[strings.ToUpper(symbol)]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("no benchmark data for %s in range", symbol)
	}
	return bars, nil
}
