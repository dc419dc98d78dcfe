package tax

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// holdings held strictly longer than this are long term
const longTermThreshold = 365 * 24 * time.Hour

// Inventory holds the open lots of one report run, keyed by token contract.
// New lots always go to the tail; the cost basis method only picks the consumption end.
type Inventory struct {
	lots map[string][]schema.Lot
}

func NewInventory() *Inventory {
	return &Inventory{lots: make(map[string][]schema.Lot)}
}

func key(token string) string {
	return strings.ToLower(token)
}

func (inv *Inventory) Acquire(token string, lot schema.Lot) {
	k := key(token)
	inv.lots[k] = append(inv.lots[k], lot)
}

// Disposal is what one sale consumed from the inventory.
type Disposal struct {
	CostBasis decimal.Decimal
	Consumed  decimal.Decimal
	// Oldest is the earliest acquisition among consumed lots; zero if none was consumed.
	Oldest time.Time
}

// Dispose consumes amount of token. Selling more than is held stops at an empty
// inventory and the cost basis only covers what existed.
func (inv *Inventory) Dispose(token string, amount decimal.Decimal, method schema.CostBasisMethod) Disposal {
	k := key(token)
	lots := inv.lots[k]
	if method == schema.AverageCost {
		lots, d := disposeAverage(lots, amount)
		inv.store(k, lots)
		return d
	}
	d := Disposal{CostBasis: decimal.Zero, Consumed: decimal.Zero}
	remaining := amount
	for remaining.IsPositive() && len(lots) > 0 {
		idx := 0
		if method == schema.LIFO {
			idx = len(lots) - 1
		}
		lot := &lots[idx]
		used := decimal.Min(remaining, lot.Amount)
		d.CostBasis = d.CostBasis.Add(used.Mul(lot.UnitCostUSD))
		d.consume(used, lot.AcquiredAt)
		remaining = remaining.Sub(used)
		lot.Amount = lot.Amount.Sub(used)
		if !lot.Amount.IsPositive() {
			lots = append(lots[:idx], lots[idx+1:]...)
		}
	}
	inv.store(k, lots)
	return d
}

func (d *Disposal) consume(used decimal.Decimal, acquired time.Time) {
	d.Consumed = d.Consumed.Add(used)
	if d.Oldest.IsZero() || acquired.Before(d.Oldest) {
		d.Oldest = acquired
	}
}

func (inv *Inventory) store(k string, lots []schema.Lot) {
	if len(lots) == 0 {
		delete(inv.lots, k)
		return
	}
	inv.lots[k] = lots
}

// disposeAverage consumes from the head at the pool's amount-weighted unit cost.
// The basis is pool cost x consumed / pool amount, multiplied before dividing,
// so liquidating the whole pool costs exactly the pool cost. Lots left open are
// re-priced in place to the pool average.
func disposeAverage(lots []schema.Lot, amount decimal.Decimal) ([]schema.Lot, Disposal) {
	d := Disposal{CostBasis: decimal.Zero, Consumed: decimal.Zero}
	poolAmount, poolCost := poolTotals(lots)
	remaining := amount
	for remaining.IsPositive() && len(lots) > 0 {
		lot := &lots[0]
		used := decimal.Min(remaining, lot.Amount)
		d.consume(used, lot.AcquiredAt)
		remaining = remaining.Sub(used)
		lot.Amount = lot.Amount.Sub(used)
		if !lot.Amount.IsPositive() {
			lots = lots[1:]
		}
	}
	if !poolAmount.IsPositive() {
		return lots, d
	}
	if d.Consumed.Equal(poolAmount) {
		d.CostBasis = poolCost
	} else {
		d.CostBasis = poolCost.Mul(d.Consumed).Div(poolAmount)
	}
	avg := poolCost.Div(poolAmount)
	for j := range lots {
		lots[j].UnitCostUSD = avg
	}
	return lots, d
}

func poolTotals(lots []schema.Lot) (amount, cost decimal.Decimal) {
	amount, cost = decimal.Zero, decimal.Zero
	for _, l := range lots {
		amount = amount.Add(l.Amount)
		cost = cost.Add(l.Amount.Mul(l.UnitCostUSD))
	}
	return amount, cost
}

// Remaining returns a copy of the open lots for token, head first.
func (inv *Inventory) Remaining(token string) []schema.Lot {
	return append([]schema.Lot(nil), inv.lots[key(token)]...)
}

// OpenLots counts open lots per token.
func (inv *Inventory) OpenLots() map[string]int {
	out := make(map[string]int, len(inv.lots))
	for k, v := range inv.lots {
		out[k] = len(v)
	}
	return out
}

func (inv *Inventory) Tokens() []string {
	var out []string
	for k := range inv.lots {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func holdingClass(sold, acquired time.Time) schema.Classification {
	if sold.Sub(acquired) > longTermThreshold {
		return schema.LongTerm
	}
	return schema.ShortTerm
}

func decPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// CalculateTaxableEvents runs the classified stream through a fresh inventory in
// the order received. Transfers, burns, approvals and unknown rows leave the
// inventory untouched and produce no event.
func CalculateTaxableEvents(txs []schema.ClassifiedTransaction, method schema.CostBasisMethod) ([]schema.TaxableEvent, *Inventory) {
	l := log.WithFields(log.Fields{
		"package": "tax",
		"func":    "CalculateTaxableEvents",
		"method":  method,
	})
	l.Debugf("processing %d transactions", len(txs))
	inv := NewInventory()
	events := []schema.TaxableEvent{}
	for i, tx := range txs {
		amount, ok := normalizeAmount(tx.Value, tx.Decimals)
		if !ok {
			l.Warnf("tx %s: unusable value %q, using 0", tx.Hash, tx.Value)
		}
		if amount.IsZero() {
			l.Debugf("tx %s: zero amount, skipped", tx.Hash)
			continue
		}
		symbol := tx.TokenSymbol
		if symbol == "" {
			symbol = "UNKNOWN"
		}
		total := amount.Mul(tx.PriceUSD)
		ev := schema.TaxableEvent{
			ID:              fmt.Sprintf("%s-%d", tx.Hash, i),
			TransactionHash: tx.Hash,
			Timestamp:       tx.Timestamp,
			Type:            tx.Type,
			TokenSymbol:     symbol,
			TokenAddress:    tx.TokenAddress,
			Amount:          amount,
			PriceUSD:        tx.PriceUSD,
		}
		switch tx.Type {
		case schema.TypeBuy, schema.TypeAirdrop:
			inv.Acquire(tx.TokenAddress, schema.Lot{
				Amount:      amount,
				UnitCostUSD: tx.PriceUSD,
				AcquiredAt:  tx.Timestamp,
			})
			if tx.Type == schema.TypeBuy {
				ev.CostBasis = decPtr(total)
				// A buy is not a disposal. short_term here is a display label only,
				// kept for compatibility with existing report consumers.
				ev.Classification = schema.ShortTerm
			} else {
				ev.Proceeds = decPtr(total)
				ev.GainLoss = decPtr(total)
				ev.Classification = schema.Income
			}
			l.Debugf("tx %s: %s %s %s @ %s", tx.Hash, tx.Type, amount, symbol, tx.PriceUSD)
		case schema.TypeSell:
			d := inv.Dispose(tx.TokenAddress, amount, method)
			if d.Consumed.LessThan(amount) {
				l.Warnf("tx %s: selling %s %s but only %s held", tx.Hash, amount, symbol, d.Consumed)
			}
			acquired := d.Oldest
			if acquired.IsZero() {
				acquired = tx.Timestamp
			}
			ev.CostBasis = decPtr(d.CostBasis)
			ev.Proceeds = decPtr(total)
			ev.GainLoss = decPtr(total.Sub(d.CostBasis))
			ev.FeeUSD = decPtr(parseFee(tx.GasFee).Mul(tx.PriceUSD))
			ev.Classification = holdingClass(tx.Timestamp, acquired)
			l.Debugf("tx %s: sell %s %s basis=%s proceeds=%s -> %s", tx.Hash, amount, symbol, d.CostBasis, total, ev.Classification)
		default:
			l.Debugf("tx %s: %s not taxable", tx.Hash, tx.Type)
			continue
		}
		events = append(events, ev)
	}
	return events, inv
}
