package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"klinesync/internal/market"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

const upsertBatchSize = 500

// UpsertKlines writes candles with last-write-wins semantics on the series
// key. Re-applying the same batch leaves the table unchanged; a retroactively
// corrected upstream candle overwrites the stored one.
func (s *Store) UpsertKlines(ctx context.Context, key store.SeriesKey, candles []market.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	rows := make([]model.Kline, 0, len(candles))
	now := time.Now().UTC()
	for _, c := range candles {
		rows = append(rows, model.Kline{
			ExchangeID:  key.ExchangeID,
			SymbolID:    key.SymbolID,
			Timeframe:   key.Timeframe.String(),
			OpenTime:    c.OpenTime,
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			Volume:      c.Volume,
			QuoteVolume: c.QuoteVolume,
			Trades:      c.Trades,
			UpdatedAt:   now,
		})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "exchange_id"}, {Name: "symbol_id"}, {Name: "timeframe"}, {Name: "open_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "quote_volume", "trades", "updated_at",
		}),
	}).CreateInBatches(rows, upsertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return int64(len(rows)), nil
}

// PresentRanges coalesces stored open times inside [start, end) into minimal
// closed-open ranges. Timestamps exactly one timeframe step apart belong to
// the same range.
func (s *Store) PresentRanges(ctx context.Context, key store.SeriesKey, start, end int64) ([]market.TimeRange, error) {
	var openTimes []int64
	err := s.seriesQuery(ctx, key).
		Where("open_time >= ? AND open_time < ?", start, end).
		Order("open_time ASC").
		Pluck("open_time", &openTimes).Error
	if err != nil {
		return nil, err
	}
	return coalesce(openTimes, key.Timeframe.Milliseconds()), nil
}

func coalesce(openTimes []int64, step int64) []market.TimeRange {
	if len(openTimes) == 0 || step <= 0 {
		return nil
	}
	ranges := make([]market.TimeRange, 0, 4)
	cur := market.TimeRange{Start: openTimes[0], End: openTimes[0] + step}
	for _, ts := range openTimes[1:] {
		if ts == cur.End {
			cur.End = ts + step
			continue
		}
		ranges = append(ranges, cur)
		cur = market.TimeRange{Start: ts, End: ts + step}
	}
	return append(ranges, cur)
}

func (s *Store) LatestOpenTime(ctx context.Context, key store.SeriesKey) (int64, error) {
	var row model.Kline
	err := s.seriesQuery(ctx, key).Order("open_time DESC").First(&row).Error
	if err != nil {
		return 0, translateNotFound(err)
	}
	return row.OpenTime, nil
}

func (s *Store) KlineCount(ctx context.Context, key store.SeriesKey) (int64, error) {
	var count int64
	err := s.seriesQuery(ctx, key).Model(&model.Kline{}).Count(&count).Error
	return count, err
}

func (s *Store) Klines(ctx context.Context, key store.SeriesKey, start, end int64, limit int) ([]market.Candle, error) {
	q := s.seriesQuery(ctx, key).
		Where("open_time >= ? AND open_time < ?", start, end).
		Order("open_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.Kline
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Candle(key.Timeframe))
	}
	return out, nil
}

func (s *Store) DeleteKlinesBefore(ctx context.Context, key store.SeriesKey, cutoff int64) (int64, error) {
	res := s.seriesQuery(ctx, key).
		Where("open_time < ?", cutoff).
		Delete(&model.Kline{})
	return res.RowsAffected, res.Error
}

func (s *Store) seriesQuery(ctx context.Context, key store.SeriesKey) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&model.Kline{}).
		Where("exchange_id = ? AND symbol_id = ? AND timeframe = ?",
			key.ExchangeID, key.SymbolID, key.Timeframe.String())
}
