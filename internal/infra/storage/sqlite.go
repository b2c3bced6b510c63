// Package storage persists the shared market state, per-identity ledgers,
// the global leaderboard and entitlement levels in SQLite (pure Go driver).
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"synthex/internal/domain"
)

// MarketRow is the singleton market state row. Bar history and the
// in-progress bar are stored as JSON columns; both are small and bounded.
type MarketRow struct {
	Key           string `gorm:"primaryKey"`
	Visitors      float64
	Requests      float64
	Velocity      float64
	Price         float64
	Bars          string
	CurrentBar    string
	LastUpdatedMS int64
	UpdatedAt     time.Time
}

// LedgerRow is one identity's account. The bounded fill history is stored
// inline as JSON.
type LedgerRow struct {
	Identity  string `gorm:"primaryKey"`
	Cash      float64
	Position  int64
	AvgCost   float64
	Fills     string
	UpdatedAt time.Time
}

// TopTradeRow is one leaderboard entry. The table is trimmed to the
// leaderboard cap on every save.
type TopTradeRow struct {
	ID          uint `gorm:"primaryKey"`
	Identity    string
	RealizedPnl float64
	Size        int64
}

// UpgradeRow holds an identity's entitlement level for the risk gate.
type UpgradeRow struct {
	Identity string `gorm:"primaryKey"`
	Level    int
}

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// NewStore opens (creating if needed) the database at path and migrates
// the schema.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&MarketRow{}, &LedgerRow{}, &TopTradeRow{}, &UpgradeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// ======================================================================================
// Market operations
// ======================================================================================

// LoadMarket retrieves the singleton market state. Returns (nil, nil)
// when no state has been persisted yet.
func (s *Store) LoadMarket() (*domain.MarketState, error) {
	var row MarketRow
	err := s.db.First(&row, "key = ?", domain.MarketKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("load market", err)
	}

	state := &domain.MarketState{
		Visitors:      row.Visitors,
		Requests:      row.Requests,
		Velocity:      row.Velocity,
		Price:         row.Price,
		LastUpdatedMS: row.LastUpdatedMS,
	}
	if row.Bars != "" {
		if err := json.Unmarshal([]byte(row.Bars), &state.Bars); err != nil {
			return nil, domain.NewStorageError("decode bars", err)
		}
	}
	if row.CurrentBar != "" {
		var bar domain.Candle
		if err := json.Unmarshal([]byte(row.CurrentBar), &bar); err != nil {
			return nil, domain.NewStorageError("decode current bar", err)
		}
		state.CurrentBar = &bar
	}
	return state, nil
}

// SaveMarket persists the singleton market state.
func (s *Store) SaveMarket(state *domain.MarketState) error {
	bars, err := json.Marshal(state.Bars)
	if err != nil {
		return domain.NewStorageError("encode bars", err)
	}
	current := ""
	if state.CurrentBar != nil {
		b, err := json.Marshal(state.CurrentBar)
		if err != nil {
			return domain.NewStorageError("encode current bar", err)
		}
		current = string(b)
	}

	row := MarketRow{
		Key:           domain.MarketKey,
		Visitors:      state.Visitors,
		Requests:      state.Requests,
		Velocity:      state.Velocity,
		Price:         state.Price,
		Bars:          string(bars),
		CurrentBar:    current,
		LastUpdatedMS: state.LastUpdatedMS,
		UpdatedAt:     time.Now(),
	}
	if err := s.db.Save(&row).Error; err != nil {
		return domain.NewStorageError("save market", err)
	}
	return nil
}

// ======================================================================================
// Ledger operations
// ======================================================================================

// LoadLedger retrieves an identity's account. Returns (nil, nil) when the
// identity has never traded.
func (s *Store) LoadLedger(identity string) (*domain.Ledger, error) {
	var row LedgerRow
	err := s.db.First(&row, "identity = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("load ledger", err)
	}

	l := &domain.Ledger{
		Identity: row.Identity,
		Cash:     row.Cash,
		Position: row.Position,
		AvgCost:  row.AvgCost,
	}
	if row.Fills != "" {
		if err := json.Unmarshal([]byte(row.Fills), &l.Fills); err != nil {
			return nil, domain.NewStorageError("decode fills", err)
		}
	}
	return l, nil
}

// SaveLedger persists an identity's account.
func (s *Store) SaveLedger(l *domain.Ledger) error {
	fills, err := json.Marshal(l.Fills)
	if err != nil {
		return domain.NewStorageError("encode fills", err)
	}
	row := LedgerRow{
		Identity:  l.Identity,
		Cash:      l.Cash,
		Position:  l.Position,
		AvgCost:   l.AvgCost,
		Fills:     string(fills),
		UpdatedAt: time.Now(),
	}
	if err := s.db.Save(&row).Error; err != nil {
		return domain.NewStorageError("save ledger", err)
	}
	return nil
}

// ======================================================================================
// Leaderboard operations
// ======================================================================================

// TopTrades returns the leaderboard ordered by realized P&L descending.
func (s *Store) TopTrades() ([]domain.TopTrade, error) {
	var rows []TopTradeRow
	if err := s.db.Order("realized_pnl desc").Limit(domain.TopTradeCap).Find(&rows).Error; err != nil {
		return nil, domain.NewStorageError("load top trades", err)
	}
	out := make([]domain.TopTrade, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TopTrade{Identity: r.Identity, RealizedPnl: r.RealizedPnl, Size: r.Size})
	}
	return out, nil
}

// SaveTopTrades replaces the leaderboard with the given (already trimmed)
// entries.
func (s *Store) SaveTopTrades(board []domain.TopTrade) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&TopTradeRow{}).Error; err != nil {
			return err
		}
		for _, t := range board {
			row := TopTradeRow{Identity: t.Identity, RealizedPnl: t.RealizedPnl, Size: t.Size}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewStorageError("save top trades", err)
	}
	return nil
}

// ======================================================================================
// Entitlement operations
// ======================================================================================

// Level returns the identity's upgrade level; 0 when absent.
// Satisfies risk.EntitlementSource.
func (s *Store) Level(identity string) (int, error) {
	var row UpgradeRow
	err := s.db.First(&row, "identity = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewStorageError("load level", err)
	}
	return row.Level, nil
}

// SetLevel sets the identity's upgrade level.
func (s *Store) SetLevel(identity string, level int) error {
	row := UpgradeRow{Identity: identity, Level: level}
	if err := s.db.Save(&row).Error; err != nil {
		return domain.NewStorageError("save level", err)
	}
	return nil
}
