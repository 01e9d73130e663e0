package storage

import (
	"fmt"
	"time"

	"github.com/raykavin/dryrun/internal/core"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// tradeRecord is the relational shape of a closed trade
type tradeRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Strategy   string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Side       string
	EntryPrice float64
	EntryTime  time.Time
	ExitPrice  float64
	ExitTime   time.Time `gorm:"index"`
	Size       float64
	PnL        float64 `gorm:"column:pnl"`
	PnLPercent float64 `gorm:"column:pnl_pct"`
	Reason     string
}

// TableName sets the table used by the journal
func (tradeRecord) TableName() string { return "trades" }

func toRecord(trade core.Trade) tradeRecord {
	return tradeRecord{
		Strategy:   trade.Strategy,
		Symbol:     trade.Symbol,
		Side:       string(trade.Side),
		EntryPrice: trade.EntryPrice,
		EntryTime:  trade.EntryTime,
		ExitPrice:  trade.ExitPrice,
		ExitTime:   trade.ExitTime,
		Size:       trade.Size,
		PnL:        trade.PnL,
		PnLPercent: trade.PnLPercent,
		Reason:     string(trade.Reason),
	}
}

func (r tradeRecord) toTrade() core.Trade {
	return core.Trade{
		Strategy:   r.Strategy,
		Symbol:     r.Symbol,
		Side:       core.Side(r.Side),
		EntryPrice: r.EntryPrice,
		EntryTime:  r.EntryTime,
		ExitPrice:  r.ExitPrice,
		ExitTime:   r.ExitTime,
		Size:       r.Size,
		PnL:        r.PnL,
		PnLPercent: r.PnLPercent,
		Reason:     core.ExitReason(r.Reason),
	}
}

// SQLJournal implements the core.Journal interface using a SQL database via GORM
type SQLJournal struct {
	db *gorm.DB
}

// JournalFromSQL creates a new SQL journal instance
func JournalFromSQL(dialect gorm.Dialector, opts ...gorm.Option) (core.Journal, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pooling parameters
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&tradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLJournal{
		db: db,
	}, nil
}

// Append creates a new trade row in the SQL database
func (s *SQLJournal) Append(trade core.Trade) error {
	record := toRecord(trade)
	if result := s.db.Create(&record); result.Error != nil {
		return fmt.Errorf("failed to record trade: %w", result.Error)
	}

	return nil
}

// Trades retrieves trades ordered by exit time, applying filters in memory
func (s *SQLJournal) Trades(filters ...core.TradeFilter) ([]core.Trade, error) {
	var records []tradeRecord

	result := s.db.Order("exit_time").Find(&records)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to fetch trades: %w", result.Error)
	}

	trades := make([]core.Trade, 0, len(records))
	for _, record := range records {
		trades = append(trades, record.toTrade())
	}

	return lo.Filter(trades, func(trade core.Trade, _ int) bool {
		for _, filter := range filters {
			if !filter(trade) {
				return false
			}
		}
		return true
	}), nil
}

// Close closes the database connection
func (s *SQLJournal) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}
