// Package sqlite persists the durable trade journal. The JSON ledger is the
// agent's working state; this journal is the queryable history of closed
// trades and archived candles that survives ledger rotation.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"intradaybot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal is a single-writer SQLite store for trades and closed candles.
type Journal struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Open opens (creating if needed) the journal database in WAL mode.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened journal at %s", dbPath)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id          TEXT    PRIMARY KEY,
			token       TEXT    NOT NULL,
			exchange    TEXT    NOT NULL,
			direction   TEXT    NOT NULL,
			qty         INTEGER NOT NULL,
			entry_price INTEGER NOT NULL,
			entry_ts    INTEGER NOT NULL,
			stop_loss   INTEGER NOT NULL,
			target      INTEGER NOT NULL,
			alert_rsi   REAL,
			order_id    TEXT,
			exit_price  INTEGER,
			exit_ts     INTEGER,
			exit_reason TEXT,
			pnl         INTEGER
		);

		CREATE TABLE IF NOT EXISTS candles (
			token    TEXT    NOT NULL,
			exchange TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     INTEGER NOT NULL,
			high     INTEGER NOT NULL,
			low      INTEGER NOT NULL,
			close    INTEGER NOT NULL,
			volume   INTEGER,
			ticks    INTEGER,
			PRIMARY KEY (exchange, token, ts)
		);
	`)
	return err
}

// RecordTrade upserts a closed trade. Open trades stay in the JSON ledger
// only; the journal records outcomes.
func (j *Journal) RecordTrade(tr model.Trade) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
			(id, token, exchange, direction, qty, entry_price, entry_ts,
			 stop_loss, target, alert_rsi, order_id, exit_price, exit_ts, exit_reason, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.Token, tr.Exchange, string(tr.Direction), tr.Qty, tr.EntryPrice, tr.EntryTime.Unix(),
		tr.StopLoss, tr.Target, tr.AlertRSI, tr.OrderID, tr.ExitPrice, tr.ExitTime.Unix(), tr.ExitReason, tr.PnL)
	if err != nil {
		return fmt.Errorf("sqlite insert trade: %w", err)
	}
	return nil
}

// RecordCandle archives one closed candle.
func (j *Journal) RecordCandle(c model.Candle) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO candles (token, exchange, ts, open, high, low, close, volume, ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Token, c.Exchange, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.TicksCount)
	if err != nil {
		return fmt.Errorf("sqlite insert candle: %w", err)
	}
	return nil
}

// RecentTrades returns the most recent trades by entry time, newest first.
func (j *Journal) RecentTrades(limit int) ([]model.Trade, error) {
	rows, err := j.db.Query(`
		SELECT id, token, exchange, direction, qty, entry_price, entry_ts,
		       stop_loss, target, alert_rsi, order_id, exit_price, exit_ts, exit_reason, pnl
		FROM trades
		ORDER BY entry_ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var tr model.Trade
		var dir string
		var entryTS, exitTS int64
		if err := rows.Scan(&tr.ID, &tr.Token, &tr.Exchange, &dir, &tr.Qty, &tr.EntryPrice, &entryTS,
			&tr.StopLoss, &tr.Target, &tr.AlertRSI, &tr.OrderID, &tr.ExitPrice, &exitTS, &tr.ExitReason, &tr.PnL); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		tr.Direction = model.Direction(dir)
		tr.EntryTime = time.Unix(entryTS, 0).UTC()
		tr.ExitTime = time.Unix(exitTS, 0).UTC()
		tr.Status = model.StatusClosed
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// Candles returns archived candles for the instrument after the given unix
// timestamp, ordered ascending for replay.
func (j *Journal) Candles(exchange, token string, afterTS int64) ([]model.Candle, error) {
	rows, err := j.db.Query(`
		SELECT token, exchange, ts, open, high, low, close, volume, ticks
		FROM candles
		WHERE exchange = ? AND token = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&c.Token, &c.Exchange, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TicksCount); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
