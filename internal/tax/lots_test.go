package tax

import (
	"testing"
	"time"

	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "0xToken"

var day0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got *decimal.Decimal) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, dec(want).Equal(*got), "want %s, got %s", want, got)
}

// units converts a token amount into 18-decimal base units.
func units(amount string) string {
	return dec(amount).Shift(18).String()
}

func classified(hash string, typ schema.TransactionType, amount, price string, at time.Time) schema.ClassifiedTransaction {
	return schema.ClassifiedTransaction{
		EnrichedTransaction: schema.EnrichedTransaction{
			Hash:         hash,
			Timestamp:    at,
			Value:        units(amount),
			TokenAddress: token,
			TokenSymbol:  "TKN",
			Decimals:     18,
			PriceUSD:     dec(price),
		},
		Type: typ,
	}
}

func twoBuysAndSale() []schema.ClassifiedTransaction {
	return []schema.ClassifiedTransaction{
		classified("0xa", schema.TypeBuy, "10", "1", day0),
		classified("0xb", schema.TypeBuy, "10", "2", day0.AddDate(0, 0, 1)),
		classified("0xc", schema.TypeSell, "15", "3", day0.AddDate(0, 0, 2)),
	}
}

func TestFIFO(t *testing.T) {
	events, inv := CalculateTaxableEvents(twoBuysAndSale(), schema.FIFO)
	require.Len(t, events, 3)
	sell := events[2]
	assert.Equal(t, schema.TypeSell, sell.Type)
	assertDec(t, "20", sell.CostBasis)
	assertDec(t, "45", sell.Proceeds)
	assertDec(t, "25", sell.GainLoss)

	left := inv.Remaining(token)
	require.Len(t, left, 1)
	assert.True(t, dec("5").Equal(left[0].Amount))
	assert.True(t, dec("2").Equal(left[0].UnitCostUSD))
}

func TestLIFO(t *testing.T) {
	events, inv := CalculateTaxableEvents(twoBuysAndSale(), schema.LIFO)
	sell := events[2]
	assertDec(t, "25", sell.CostBasis)
	assertDec(t, "20", sell.GainLoss)

	left := inv.Remaining(token)
	require.Len(t, left, 1)
	assert.True(t, dec("5").Equal(left[0].Amount))
	assert.True(t, dec("1").Equal(left[0].UnitCostUSD))
}

func TestAverageCost(t *testing.T) {
	events, inv := CalculateTaxableEvents(twoBuysAndSale(), schema.AverageCost)
	sell := events[2]
	// re-pricing only the head lot would give 10*1.5 + 5*2 = 25 here
	assertDec(t, "22.5", sell.CostBasis)
	assertDec(t, "22.5", sell.GainLoss)

	left := inv.Remaining(token)
	require.Len(t, left, 1)
	assert.True(t, dec("5").Equal(left[0].Amount))
	assert.True(t, dec("1.5").Equal(left[0].UnitCostUSD))
}

func TestAverageCostRepricesOpenLotsInPlace(t *testing.T) {
	inv := NewInventory()
	inv.Acquire(token, schema.Lot{Amount: dec("10"), UnitCostUSD: dec("1"), AcquiredAt: day0})
	inv.Acquire(token, schema.Lot{Amount: dec("10"), UnitCostUSD: dec("3"), AcquiredAt: day0})

	d := inv.Dispose(token, dec("4"), schema.AverageCost)
	assert.True(t, dec("8").Equal(d.CostBasis))

	left := inv.Remaining(token)
	require.Len(t, left, 2)
	assert.True(t, dec("6").Equal(left[0].Amount))
	assert.True(t, dec("2").Equal(left[0].UnitCostUSD))
	assert.True(t, dec("2").Equal(left[1].UnitCostUSD))

	// a later acquisition joins the pool at its own cost: (6*2 + 10*2 + 4*5) / 20 = 2.6
	inv.Acquire(token, schema.Lot{Amount: dec("4"), UnitCostUSD: dec("5"), AcquiredAt: day0})
	d = inv.Dispose(token, dec("6"), schema.AverageCost)
	assert.True(t, dec("15.6").Equal(d.CostBasis), "got %s", d.CostBasis)
}

func TestAverageCostFullLiquidationIsExact(t *testing.T) {
	txs := []schema.ClassifiedTransaction{
		classified("0xa", schema.TypeBuy, "1", "1", day0),
		classified("0xb", schema.TypeBuy, "1", "1", day0),
		classified("0xc", schema.TypeBuy, "1", "2", day0),
		classified("0xd", schema.TypeSell, "3", "4", day0.AddDate(0, 0, 1)),
	}
	events, inv := CalculateTaxableEvents(txs, schema.AverageCost)
	sell := events[3]
	assert.Equal(t, "4", sell.CostBasis.String())
	assert.Equal(t, "8", sell.GainLoss.String())
	assert.Empty(t, inv.OpenLots())
}

func TestAverageCostPartialSaleMultipliesBeforeDividing(t *testing.T) {
	inv := NewInventory()
	for _, c := range []string{"1", "1", "2"} {
		inv.Acquire(token, schema.Lot{Amount: dec("1"), UnitCostUSD: dec(c), AcquiredAt: day0})
	}
	d := inv.Dispose(token, dec("1.5"), schema.AverageCost)
	assert.Equal(t, "2", d.CostBasis.String())
	left := inv.Remaining(token)
	require.Len(t, left, 2)
	assert.True(t, dec("0.5").Equal(left[0].Amount))
	assert.True(t, left[0].UnitCostUSD.Equal(left[1].UnitCostUSD))
}

func TestHoldingPeriodBoundary(t *testing.T) {
	for _, tc := range []struct {
		days int
		want schema.Classification
	}{
		{364, schema.ShortTerm},
		{365, schema.ShortTerm},
		{366, schema.LongTerm},
		{800, schema.LongTerm},
	} {
		txs := []schema.ClassifiedTransaction{
			classified("0xa", schema.TypeBuy, "1", "1", day0),
			classified("0xb", schema.TypeSell, "1", "2", day0.Add(time.Duration(tc.days)*24*time.Hour)),
		}
		events, _ := CalculateTaxableEvents(txs, schema.FIFO)
		assert.Equal(t, tc.want, events[1].Classification, "%d days", tc.days)
	}
}

func TestHoldingPeriodUsesOldestConsumedLot(t *testing.T) {
	txs := []schema.ClassifiedTransaction{
		classified("0xa", schema.TypeBuy, "1", "1", day0),
		classified("0xb", schema.TypeBuy, "1", "1", day0.AddDate(1, 6, 0)),
		classified("0xc", schema.TypeSell, "1", "2", day0.AddDate(1, 7, 0)),
	}
	events, _ := CalculateTaxableEvents(txs, schema.FIFO)
	assert.Equal(t, schema.LongTerm, events[2].Classification)

	events, _ = CalculateTaxableEvents(txs, schema.LIFO)
	assert.Equal(t, schema.ShortTerm, events[2].Classification)
}

func TestAirdropIsIncome(t *testing.T) {
	events, inv := CalculateTaxableEvents([]schema.ClassifiedTransaction{
		classified("0xa", schema.TypeAirdrop, "100", "0.5", day0),
	}, schema.FIFO)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, schema.Income, ev.Classification)
	assertDec(t, "50", ev.Proceeds)
	assertDec(t, "50", ev.GainLoss)
	assert.Nil(t, ev.CostBasis)
	assert.Len(t, inv.Remaining(token), 1, "airdrops open a lot")

	s := Aggregate(events)
	assert.True(t, dec("50").Equal(s.TotalIncome))
	assert.True(t, s.TotalGains.IsZero())
	assert.True(t, s.TotalLosses.IsZero())
}

func TestBuyEventCarriesDisplayLabel(t *testing.T) {
	events, _ := CalculateTaxableEvents([]schema.ClassifiedTransaction{
		classified("0xa", schema.TypeBuy, "4", "2.5", day0),
	}, schema.FIFO)
	require.Len(t, events, 1)
	assertDec(t, "10", events[0].CostBasis)
	assert.Equal(t, schema.ShortTerm, events[0].Classification)
	assert.Nil(t, events[0].GainLoss)
	assert.Nil(t, events[0].Proceeds)
	assert.Equal(t, "0xa-0", events[0].ID)
}

func TestOverDisposalTruncates(t *testing.T) {
	txs := []schema.ClassifiedTransaction{
		classified("0xa", schema.TypeBuy, "5", "2", day0),
		classified("0xb", schema.TypeSell, "8", "3", day0.AddDate(0, 0, 3)),
	}
	var events []schema.TaxableEvent
	var inv *Inventory
	assert.NotPanics(t, func() {
		events, inv = CalculateTaxableEvents(txs, schema.FIFO)
	})
	sell := events[1]
	assertDec(t, "10", sell.CostBasis)
	assertDec(t, "24", sell.Proceeds)
	assertDec(t, "14", sell.GainLoss)
	assert.Empty(t, inv.Remaining(token))
	assert.Empty(t, inv.OpenLots())
}

func TestSellFromEmptyInventory(t *testing.T) {
	sale := day0.AddDate(3, 0, 0)
	events, _ := CalculateTaxableEvents([]schema.ClassifiedTransaction{
		classified("0xa", schema.TypeSell, "2", "3", sale),
	}, schema.LIFO)
	require.Len(t, events, 1)
	assertDec(t, "0", events[0].CostBasis)
	assertDec(t, "6", events[0].GainLoss)
	// no lot consumed: holding period is measured from the sale itself
	assert.Equal(t, schema.ShortTerm, events[0].Classification)
}

func TestOrderSensitivity(t *testing.T) {
	buyLow := classified("0xa", schema.TypeBuy, "10", "1", day0)
	buyHigh := classified("0xb", schema.TypeBuy, "10", "5", day0.AddDate(0, 0, 1))
	sell := classified("0xc", schema.TypeSell, "10", "6", day0.AddDate(0, 0, 2))

	for _, m := range []schema.CostBasisMethod{schema.FIFO, schema.LIFO} {
		a, _ := CalculateTaxableEvents([]schema.ClassifiedTransaction{buyLow, buyHigh, sell}, m)
		b, _ := CalculateTaxableEvents([]schema.ClassifiedTransaction{buyHigh, buyLow, sell}, m)
		assert.False(t, a[2].CostBasis.Equal(*b[2].CostBasis), "%s should depend on order", m)
	}
}

func TestNonTaxableTypesLeaveInventoryAlone(t *testing.T) {
	txs := []schema.ClassifiedTransaction{
		classified("0xa", schema.TypeBuy, "5", "2", day0),
		classified("0xb", schema.TypeTransfer, "5", "2", day0),
		classified("0xc", schema.TypeBurn, "5", "2", day0),
		classified("0xd", schema.TypeApproval, "5", "2", day0),
		classified("0xe", schema.TypeUnknown, "5", "2", day0),
	}
	events, inv := CalculateTaxableEvents(txs, schema.FIFO)
	assert.Len(t, events, 1)
	left := inv.Remaining(token)
	require.Len(t, left, 1)
	assert.True(t, dec("5").Equal(left[0].Amount))
}

func TestZeroAndMalformedAmountsAreSkipped(t *testing.T) {
	zero := classified("0xa", schema.TypeAirdrop, "0", "1", day0)
	bad := classified("0xb", schema.TypeBuy, "1", "1", day0)
	bad.Value = "12abc"
	events, inv := CalculateTaxableEvents([]schema.ClassifiedTransaction{zero, bad}, schema.FIFO)
	assert.Empty(t, events)
	assert.Empty(t, inv.OpenLots())
}

func TestSellFee(t *testing.T) {
	s := classified("0xb", schema.TypeSell, "1", "2", day0)
	s.GasFee = "0.01"
	events, _ := CalculateTaxableEvents([]schema.ClassifiedTransaction{s}, schema.FIFO)
	assertDec(t, "0.02", events[0].FeeUSD)

	s.GasFee = ""
	events, _ = CalculateTaxableEvents([]schema.ClassifiedTransaction{s}, schema.FIFO)
	assertDec(t, "0", events[0].FeeUSD)
}

func TestInventoryKeysIgnoreCase(t *testing.T) {
	inv := NewInventory()
	inv.Acquire("0xABC", schema.Lot{Amount: dec("1"), UnitCostUSD: dec("1"), AcquiredAt: day0})
	d := inv.Dispose("0xabc", dec("1"), schema.FIFO)
	assert.True(t, dec("1").Equal(d.Consumed))
	assert.Equal(t, day0, d.Oldest)
}
