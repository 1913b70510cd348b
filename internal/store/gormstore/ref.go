package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"klinesync/internal/store/model"
)

// GetOrCreateExchange returns the exchange row for code, inserting a default
// row when missing.
func (s *Store) GetOrCreateExchange(ctx context.Context, code string, sandbox bool) (*model.Exchange, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("exchange code is required")
	}
	var row model.Exchange
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	row = model.Exchange{
		Code:        code,
		DisplayName: strings.ToUpper(code[:1]) + code[1:],
		Sandbox:     sandbox,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// GetOrCreateSymbol returns the symbol row, inserting one with base/quote
// split from the "BASE/QUOTE" form when missing.
func (s *Store) GetOrCreateSymbol(ctx context.Context, exchangeID int64, symbol string) (*model.Symbol, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	var row model.Symbol
	err := s.db.WithContext(ctx).
		Where("exchange_id = ? AND symbol = ?", exchangeID, symbol).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	base, quote := splitSymbol(symbol)
	row = model.Symbol{
		ExchangeID: exchangeID,
		Symbol:     symbol,
		BaseAsset:  base,
		QuoteAsset: quote,
		IsActive:   true,
		IsTrading:  true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) FindSymbol(ctx context.Context, exchangeID int64, symbol string) (*model.Symbol, error) {
	var row model.Symbol
	err := s.db.WithContext(ctx).
		Where("exchange_id = ? AND symbol = ?", exchangeID, normalizeSymbol(symbol)).
		First(&row).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &row, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func splitSymbol(symbol string) (base, quote string) {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i], symbol[i+1:]
	}
	// No separator: fall back to the common quote suffixes.
	for _, q := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}
