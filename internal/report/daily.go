// Package report summarizes a trading day from the trade ledger.
package report

import (
	"fmt"
	"time"

	"intradaybot/internal/model"
)

// DaySummary aggregates the closed trades of one trading day.
type DaySummary struct {
	Day        time.Time `json:"day"`
	Trades     int       `json:"trades"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	GrossPnL   int64     `json:"gross_pnl"` // paise
	BestTrade  int64     `json:"best_trade"`
	WorstTrade int64     `json:"worst_trade"`
	TimeExits  int       `json:"time_exits"`
	Open       bool      `json:"open"` // a position was still open at summary time
}

// Summarize folds the trades closed on the given day into a DaySummary.
// Trades from other days and still-open trades are skipped, except that an
// open trade flips the Open flag.
func Summarize(trades []model.Trade, day time.Time) DaySummary {
	s := DaySummary{Day: day}
	y, m, d := day.Date()

	for _, tr := range trades {
		if tr.Status == model.StatusOpen {
			s.Open = true
			continue
		}
		ty, tm, td := tr.ExitTime.In(day.Location()).Date()
		if ty != y || tm != m || td != d {
			continue
		}
		s.Trades++
		s.GrossPnL += tr.PnL
		if tr.PnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		if s.Trades == 1 || tr.PnL > s.BestTrade {
			s.BestTrade = tr.PnL
		}
		if s.Trades == 1 || tr.PnL < s.WorstTrade {
			s.WorstTrade = tr.PnL
		}
		if tr.ExitReason == model.ExitTime {
			s.TimeExits++
		}
	}
	return s
}

// String renders the summary for logs and notifications.
func (s DaySummary) String() string {
	if s.Trades == 0 {
		if s.Open {
			return "no trades closed today, one position still open"
		}
		return "no trades today"
	}
	return fmt.Sprintf("%d trades (%dW/%dL), gross %s, best %s, worst %s, time exits %d",
		s.Trades, s.Wins, s.Losses,
		rupees(s.GrossPnL), rupees(s.BestTrade), rupees(s.WorstTrade), s.TimeExits)
}

func rupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}
