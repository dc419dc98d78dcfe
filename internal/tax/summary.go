package tax

import (
	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
)

// Aggregate reduces taxable events into a summary. The result does not depend
// on event order.
func Aggregate(events []schema.TaxableEvent) schema.TaxSummary {
	s := schema.TaxSummary{
		TotalGains:        decimal.Zero,
		TotalLosses:       decimal.Zero,
		ShortTermGains:    decimal.Zero,
		LongTermGains:     decimal.Zero,
		TotalIncome:       decimal.Zero,
		TotalFees:         decimal.Zero,
		TotalTransactions: len(events),
	}
	for _, ev := range events {
		gl := decimal.Zero
		if ev.GainLoss != nil {
			gl = *ev.GainLoss
		}
		switch {
		case ev.Classification == schema.Income:
			s.TotalIncome = s.TotalIncome.Add(gl)
		case gl.IsPositive():
			s.TotalGains = s.TotalGains.Add(gl)
			switch ev.Classification {
			case schema.ShortTerm:
				s.ShortTermGains = s.ShortTermGains.Add(gl)
			case schema.LongTerm:
				s.LongTermGains = s.LongTermGains.Add(gl)
			}
		case gl.IsNegative():
			s.TotalLosses = s.TotalLosses.Add(gl.Abs())
		}
		if ev.FeeUSD != nil {
			s.TotalFees = s.TotalFees.Add(*ev.FeeUSD)
		}
	}
	s.NetGainLoss = s.TotalGains.Sub(s.TotalLosses)
	return s
}
