package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/raykavin/dryrun/internal/core"

	"github.com/tidwall/buntdb"
)

// BuntJournal implements the core.Journal interface using BuntDB
type BuntJournal struct {
	lastID int64
	db     *buntdb.DB
}

// JournalFromMemory creates an in-memory journal
func JournalFromMemory() (core.Journal, error) {
	return NewBuntJournal(":memory:")
}

// JournalFromFile creates a file-based journal
func JournalFromFile(file string) (core.Journal, error) {
	return NewBuntJournal(file)
}

// NewBuntJournal creates a new BuntDB journal instance
func NewBuntJournal(sourceFile string) (core.Journal, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	err = db.CreateIndex("exit_time_index", "*", buntdb.IndexJSON("exit_time"))
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	// Resume the key sequence from what is already stored so reopening a
	// journal never overwrites earlier trades
	var lastID int64
	err = db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			if id, err := strconv.ParseInt(key, 10, 64); err == nil && id > lastID {
				lastID = id
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan journal keys: %w", err)
	}

	return &BuntJournal{
		lastID: lastID,
		db:     db,
	}, nil
}

// getID generates a unique ID for trades
func (b *BuntJournal) getID() int64 {
	return atomic.AddInt64(&b.lastID, 1)
}

// Append stores a closed trade in the database
func (b *BuntJournal) Append(trade core.Trade) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}

		_, _, err = tx.Set(strconv.FormatInt(b.getID(), 10), string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store trade: %w", err)
		}

		return nil
	})
}

// Trades retrieves trades ordered by exit time, applying the given filters
func (b *BuntJournal) Trades(filters ...core.TradeFilter) ([]core.Trade, error) {
	trades := make([]core.Trade, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		err := tx.Ascend("exit_time_index", func(_, value string) bool {
			var trade core.Trade
			if err := json.Unmarshal([]byte(value), &trade); err != nil {
				return true // Skip unreadable rows and continue
			}

			for _, filter := range filters {
				if !filter(trade) {
					return true
				}
			}

			trades = append(trades, trade)
			return true
		})

		if err != nil {
			return fmt.Errorf("failed to iterate over trades: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return trades, nil
}

// Close closes the database connection
func (b *BuntJournal) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
