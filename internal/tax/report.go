package tax

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/schema"
	log "github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidRequest    = errors.New("invalid tax report request")
	ErrUnsupportedMethod = errors.New("unsupported cost basis method")
)

// Source is the blockchain data provider the report reads from.
type Source interface {
	FetchTransactions(ctx context.Context, chain, address, startDate, endDate string) ([]schema.Transaction, error)
	FetchPrices(ctx context.Context, chain string, contracts []string) ([]schema.TokenPrice, error)
}

type Generator struct {
	source Source
	now    func() time.Time
	newID  func() string
}

type Option func(*Generator)

// WithClock replaces the wall clock used for timestamp fallback and generated_at.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

func NewGenerator(source Source, opts ...Option) *Generator {
	g := &Generator{
		source: source,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NormalizeRequest fills defaults and validates a report request.
func NormalizeRequest(req schema.TaxReportRequest) (schema.TaxReportRequest, error) {
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		return req, errors.Wrap(ErrInvalidRequest, "address is required")
	}
	if req.Chain == "" {
		req.Chain = "ethereum"
	}
	switch req.CostBasisMethod {
	case "":
		req.CostBasisMethod = schema.FIFO
	case schema.FIFO, schema.LIFO, schema.AverageCost:
	default:
		return req, errors.Wrapf(ErrUnsupportedMethod, "%q", req.CostBasisMethod)
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return req, errors.Wrapf(ErrInvalidRequest, "start_date %q is not YYYY-MM-DD", req.StartDate)
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return req, errors.Wrapf(ErrInvalidRequest, "end_date %q is not YYYY-MM-DD", req.EndDate)
	}
	if end.Before(start) {
		return req, errors.Wrap(ErrInvalidRequest, "end_date is before start_date")
	}
	return req, nil
}

// IsRequestError reports whether err came from request validation.
func IsRequestError(err error) bool {
	c := errors.Cause(err)
	return c == ErrInvalidRequest || c == ErrUnsupportedMethod
}

// GenerateTaxReport runs fetch, enrich, classify, lot accounting and aggregation
// in sequence. A fetch failure aborts the run; no partial report is returned.
func (g *Generator) GenerateTaxReport(ctx context.Context, req schema.TaxReportRequest) (*schema.TaxReportResponse, error) {
	l := log.WithFields(log.Fields{
		"package": "tax",
		"func":    "GenerateTaxReport",
		"address": req.Address,
		"chain":   req.Chain,
	})
	l.Info("start")
	req, err := NormalizeRequest(req)
	if err != nil {
		l.Error(err)
		return nil, err
	}
	raw, err := g.source.FetchTransactions(ctx, req.Chain, req.Address, req.StartDate, req.EndDate)
	if err != nil {
		l.Error(err)
		return nil, errors.Wrap(err, "failed to generate tax report")
	}
	l.Infof("fetched %d transactions", len(raw))

	now := g.now()
	var prices []schema.TokenPrice
	if tokens := DistinctTokens(raw); len(tokens) > 0 {
		prices, err = g.source.FetchPrices(ctx, req.Chain, tokens)
		if err != nil {
			l.Warnf("price lookup failed, continuing without prices: %v", err)
			prices = nil
		}
	}
	enriched := Enrich(raw, PriceMap(prices), now)
	classified := ClassifyAll(enriched, req.Address)
	events, inv := CalculateTaxableEvents(classified, req.CostBasisMethod)
	l.Infof("calculated %d taxable events", len(events))
	summary := Aggregate(events)

	md := schema.ReportMetadata{
		ReportID:        g.newID(),
		Address:         req.Address,
		Chain:           req.Chain,
		Period:          fmt.Sprintf("%s to %s", req.StartDate, req.EndDate),
		Country:         req.Country,
		Method:          string(req.CostBasisMethod),
		GeneratedAt:     now.UTC(),
		RawTransactions: len(raw),
		OpenLots:        inv.OpenLots(),
	}
	for _, tx := range enriched {
		if tx.TimestampDefaulted {
			md.DefaultedTimestamps++
		}
		if tx.PriceMissing {
			md.MissingPrices++
		}
	}
	if md.DefaultedTimestamps > 0 {
		l.Warnf("%d transactions have no usable timestamp, holding periods for them are unreliable", md.DefaultedTimestamps)
	}
	for _, t := range inv.Tokens() {
		l.Debugf("open lots for %s: %d", t, md.OpenLots[t])
	}
	return &schema.TaxReportResponse{
		Summary:       summary,
		TaxableEvents: events,
		Metadata:      md,
	}, nil
}
