package tax

import (
	"strings"
	"time"

	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const nativeToken = "ETH"

// tokenAddressOf picks the token contract of a raw transaction.
// Plain value transfers carry no contract field and fall back to the recipient.
func tokenAddressOf(tx schema.Transaction) string {
	for _, a := range []string{tx.ContractAddress, tx.TokenAddress, tx.ToAddr} {
		if a != "" {
			return a
		}
	}
	return ""
}

// methodSelectorOf returns the explicit method id, or the first four bytes of input.
func methodSelectorOf(tx schema.Transaction) string {
	if tx.MethodID != "" {
		return strings.ToLower(tx.MethodID)
	}
	if len(tx.Input) >= 10 && strings.HasPrefix(tx.Input, "0x") {
		return strings.ToLower(tx.Input[:10])
	}
	return ""
}

// DistinctTokens lists the token addresses to price, in first-seen order.
func DistinctTokens(txs []schema.Transaction) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		a := tokenAddressOf(tx)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}

// PriceMap indexes a price snapshot by lower-cased contract address.
func PriceMap(prices []schema.TokenPrice) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		m[strings.ToLower(p.ContractAddress)] = p.PriceUSD
	}
	return m
}

// Enrich attaches a snapshot price and a normalized timestamp to every transaction.
// Unusable fields are replaced by defaults and flagged on the row, never rejected.
func Enrich(txs []schema.Transaction, prices map[string]decimal.Decimal, now time.Time) []schema.EnrichedTransaction {
	l := log.WithFields(log.Fields{
		"package": "tax",
		"func":    "Enrich",
	})
	out := make([]schema.EnrichedTransaction, 0, len(txs))
	for _, tx := range txs {
		token := tokenAddressOf(tx)
		if token == "" {
			token = nativeToken
		}
		ts, ok := parseTimestamp(tx.BlockTimestamp.String(), now)
		if !ok {
			l.Warnf("tx %s: unusable timestamp %q, using current time", tx.Hash, tx.BlockTimestamp)
		}
		decimals, dok := parseDecimals(tx.Decimals.String())
		if !dok {
			l.Warnf("tx %s: unusable decimals %q, using %d", tx.Hash, tx.Decimals, defaultDecimals)
		}
		symbol := tx.TokenSymbol
		if symbol == "" {
			symbol = nativeToken
		}
		value := tx.Value.String()
		if value == "" {
			value = "0"
		}
		price, found := prices[strings.ToLower(token)]
		if !found {
			price = decimal.Zero
			l.Debugf("tx %s: no price for %s", tx.Hash, token)
		}
		out = append(out, schema.EnrichedTransaction{
			Hash:               tx.Hash,
			BlockNumber:        parseBlockNumber(tx.BlockNumber.String()),
			Timestamp:          ts,
			FromAddr:           tx.FromAddr,
			ToAddr:             tx.ToAddr,
			Value:              value,
			TokenAddress:       token,
			TokenSymbol:        symbol,
			Decimals:           decimals,
			GasFee:             tx.GasFee.String(),
			MethodID:           methodSelectorOf(tx),
			PriceUSD:           price,
			TimestampDefaulted: !ok,
			PriceMissing:       !found,
		})
	}
	return out
}
