package tax

import (
	"strings"

	"github.com/robertlestak/wallet-ledger/internal/schema"
	log "github.com/sirupsen/logrus"
)

const (
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// ERC-20 method selectors
	selectorTransfer = "0xa9059cbb"
	selectorApprove  = "0x095ea7b3"
)

func isZeroAddress(a string) bool {
	return a == "" || strings.EqualFold(a, zeroAddress)
}

func isZeroValue(v string) bool {
	d, ok := parseBaseUnits(v)
	return ok && d.IsZero()
}

// Classify labels one transaction relative to the queried address.
// Direction decides first; a known ERC-20 selector overrides the direction result.
func Classify(tx schema.EnrichedTransaction, address string) schema.TransactionType {
	incoming := strings.EqualFold(tx.ToAddr, address)
	outgoing := strings.EqualFold(tx.FromAddr, address)

	t := schema.TypeUnknown
	switch {
	case incoming && !outgoing:
		switch {
		case isZeroAddress(tx.FromAddr):
			t = schema.TypeAirdrop
		case isZeroValue(tx.Value):
			t = schema.TypeAirdrop
		default:
			t = schema.TypeBuy
		}
	case outgoing && !incoming:
		if strings.EqualFold(tx.ToAddr, zeroAddress) {
			t = schema.TypeBurn
		} else {
			t = schema.TypeSell
		}
	case incoming && outgoing:
		t = schema.TypeTransfer
	}

	switch tx.MethodID {
	case selectorTransfer:
		t = schema.TypeTransfer
	case selectorApprove:
		t = schema.TypeApproval
	}
	return t
}

func ClassifyAll(txs []schema.EnrichedTransaction, address string) []schema.ClassifiedTransaction {
	l := log.WithFields(log.Fields{
		"package": "tax",
		"func":    "ClassifyAll",
		"address": address,
	})
	out := make([]schema.ClassifiedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = schema.ClassifiedTransaction{
			EnrichedTransaction: tx,
			Type:                Classify(tx, address),
		}
		l.Debugf("tx %s from=%s to=%s value=%s -> %s", tx.Hash, tx.FromAddr, tx.ToAddr, tx.Value, out[i].Type)
	}
	return out
}
