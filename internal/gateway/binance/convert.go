package binance

import (
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"klinesync/internal/market"
)

// convertKlines maps SDK rows to domain candles. Binance serializes prices as
// strings; decimal parsing keeps them exact end to end.
func convertKlines(kls []*binance.Kline) ([]market.Candle, error) {
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c, err := convertKline(kl)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func convertKline(kl *binance.Kline) (market.Candle, error) {
	var (
		c   market.Candle
		err error
	)
	c.OpenTime = kl.OpenTime
	c.CloseTime = kl.CloseTime
	c.Trades = kl.TradeNum
	if c.Open, err = decimal.NewFromString(kl.Open); err != nil {
		return c, fmt.Errorf("kline open %q: %w", kl.Open, err)
	}
	if c.High, err = decimal.NewFromString(kl.High); err != nil {
		return c, fmt.Errorf("kline high %q: %w", kl.High, err)
	}
	if c.Low, err = decimal.NewFromString(kl.Low); err != nil {
		return c, fmt.Errorf("kline low %q: %w", kl.Low, err)
	}
	if c.Close, err = decimal.NewFromString(kl.Close); err != nil {
		return c, fmt.Errorf("kline close %q: %w", kl.Close, err)
	}
	if c.Volume, err = decimal.NewFromString(kl.Volume); err != nil {
		return c, fmt.Errorf("kline volume %q: %w", kl.Volume, err)
	}
	if c.QuoteVolume, err = decimal.NewFromString(kl.QuoteAssetVolume); err != nil {
		return c, fmt.Errorf("kline quote volume %q: %w", kl.QuoteAssetVolume, err)
	}
	return c, nil
}
