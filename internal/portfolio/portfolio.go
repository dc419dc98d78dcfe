package portfolio

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/cache"
	"github.com/robertlestak/wallet-ledger/internal/nodit"
	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	searchHolders       = 10
	searchTransfers     = 10
	multiChainTransfers = 20

	// holders owning at least this percent of total supply are whales
	whaleSharePercent = 5
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidQuery = errors.New("invalid search query")

	txHashRe     = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	evmAddressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	tronAddrRe   = regexp.MustCompile(`^T[A-Za-z1-9]{33}$`)
)

// Provider is the blockchain data API behind the dashboard.
type Provider interface {
	GetTokensOwned(ctx context.Context, chain, account string) ([]schema.TokenHolding, error)
	GetTransfers(ctx context.Context, chain, account string, limit int) ([]schema.Transfer, error)
	GetTokenPrices(ctx context.Context, chain string, contracts []string) ([]schema.TokenPrice, error)
	GetTokenHolders(ctx context.Context, chain, contract string) ([]schema.TokenHolder, error)
	GetTokenMetadata(ctx context.Context, chain string, contracts []string) ([]schema.TokenMetadata, error)
	GetTransactionByHash(ctx context.Context, chain, hash string) (json.RawMessage, error)
}

type Service struct {
	p     Provider
	cache *cache.Cache
}

// New returns a dashboard service. A nil cache disables caching.
func New(p Provider, c *cache.Cache) *Service {
	return &Service{p: p, cache: c}
}

// cached fills v from the cache at key, or runs fetch (which must fill v) and stores the result.
func (s *Service) cached(key string, v interface{}, fetch func() error) error {
	l := log.WithFields(log.Fields{
		"package": "portfolio",
		"func":    "cached",
		"key":     key,
	})
	if s.cache != nil {
		if err := s.cache.GetJSON(key, v); err == nil {
			return nil
		} else if err != cache.ErrMiss {
			l.Warnf("cache read failed: %v", err)
		}
	}
	if err := fetch(); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(key, v); err != nil {
			l.Warnf("cache write failed: %v", err)
		}
	}
	return nil
}

// Tokens returns the holdings of account valued at the current price snapshot:
// value_usd = balance / 10^decimals x price_usd. A failed price lookup values
// every holding at 0.
func (s *Service) Tokens(ctx context.Context, chain, account string) ([]schema.TokenHolding, error) {
	l := log.WithFields(log.Fields{
		"package": "portfolio",
		"func":    "Tokens",
		"chain":   chain,
		"account": account,
	})
	var out []schema.TokenHolding
	err := s.cached(cache.Key(cache.TokensPrefix, chain, account), &out, func() error {
		var err error
		out, err = s.p.GetTokensOwned(ctx, chain, account)
		return err
	})
	if err != nil {
		l.Error(err)
		return nil, err
	}
	var contracts []string
	for _, t := range out {
		if t.ContractAddress != "" {
			contracts = append(contracts, t.ContractAddress)
		}
	}
	var prices []schema.TokenPrice
	if len(contracts) > 0 {
		prices, err = s.Prices(ctx, chain, contracts)
		if err != nil {
			l.Warnf("price lookup failed, holdings valued at 0: %v", err)
			prices = nil
		}
	}
	valueHoldings(out, prices)
	return out, nil
}

func valueHoldings(holdings []schema.TokenHolding, prices []schema.TokenPrice) {
	byContract := make(map[string]schema.TokenPrice, len(prices))
	for _, p := range prices {
		byContract[strings.ToLower(p.ContractAddress)] = p
	}
	for i := range holdings {
		h := &holdings[i]
		bal, err := decimal.NewFromString(strings.TrimSpace(h.Balance))
		if err != nil {
			bal = decimal.Zero
		}
		h.BalanceFormatted = bal.Shift(-h.Decimals)
		h.PriceUSD = decimal.Zero
		h.PriceChange24h = decimal.Zero
		h.ValueUSD = decimal.Zero
		if p, ok := byContract[strings.ToLower(h.ContractAddress)]; ok {
			h.PriceUSD = p.PriceUSD
			h.PriceChange24h = p.PriceChange24h
			h.ValueUSD = h.BalanceFormatted.Mul(p.PriceUSD)
		}
	}
}

func totalValue(holdings []schema.TokenHolding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.ValueUSD)
	}
	return total
}

// Portfolio is the valued holdings and the most recent transfers of account on one chain.
func (s *Service) Portfolio(ctx context.Context, chain, account string, transferLimit int) (*schema.PortfolioView, error) {
	l := log.WithFields(log.Fields{
		"package": "portfolio",
		"func":    "Portfolio",
		"chain":   chain,
		"account": account,
	})
	l.Info("start")
	view := &schema.PortfolioView{Chain: chain}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		view.Tokens, err = s.Tokens(gctx, chain, account)
		return err
	})
	g.Go(func() error {
		var err error
		view.Transfers, err = s.Transfers(gctx, chain, account, transferLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		l.Error(err)
		return nil, err
	}
	view.TotalValueUSD = totalValue(view.Tokens)
	view.TokenCount = len(view.Tokens)
	view.TransferCount = len(view.Transfers)
	view.HasActivity = view.TokenCount > 0 || view.TransferCount > 0
	return view, nil
}

// MultiChain builds a portfolio per chain concurrently. A chain that fails is
// reported with its error and does not fail the others.
func (s *Service) MultiChain(ctx context.Context, chains []string, account string) []schema.PortfolioView {
	l := log.WithFields(log.Fields{
		"package": "portfolio",
		"func":    "MultiChain",
		"account": account,
	})
	l.Info("start")
	out := make([]schema.PortfolioView, len(chains))
	var g errgroup.Group
	for i, chain := range chains {
		i, chain := i, chain
		g.Go(func() error {
			view, err := s.Portfolio(ctx, chain, account, multiChainTransfers)
			if err != nil {
				l.Warnf("%s: %v", chain, err)
				out[i] = schema.PortfolioView{Chain: chain, TotalValueUSD: decimal.Zero, Error: err.Error()}
				return nil
			}
			out[i] = *view
			return nil
		})
	}
	g.Wait()
	return out
}

func (s *Service) Transfers(ctx context.Context, chain, account string, limit int) ([]schema.Transfer, error) {
	return s.p.GetTransfers(ctx, chain, account, limit)
}

func (s *Service) Prices(ctx context.Context, chain string, contracts []string) ([]schema.TokenPrice, error) {
	var out []schema.TokenPrice
	err := s.cached(cache.Key(cache.PricesPrefix, chain, strings.Join(contracts, ",")), &out, func() error {
		var err error
		out, err = s.p.GetTokenPrices(ctx, chain, contracts)
		return err
	})
	return out, err
}

// BalanceChanges is always empty; the provider has no balance change endpoint.
func (s *Service) BalanceChanges(ctx context.Context, chain, account string) ([]interface{}, error) {
	log.WithFields(log.Fields{
		"package": "portfolio",
		"func":    "BalanceChanges",
		"chain":   chain,
	}).Warn("balance changes are not available from the provider")
	return []interface{}{}, nil
}

func (s *Service) Metadata(ctx context.Context, chain string, contracts []string) ([]schema.TokenMetadata, error) {
	var out []schema.TokenMetadata
	err := s.cached(cache.Key(cache.MetadataPrefix, chain, strings.Join(contracts, ",")), &out, func() error {
		var err error
		out, err = s.p.GetTokenMetadata(ctx, chain, contracts)
		return err
	})
	return out, err
}

// Holders lists holders of contract with their share of total supply in percent.
// Shares stay zero when the total supply is unknown.
func (s *Service) Holders(ctx context.Context, chain, contract string) ([]schema.TokenHolder, error) {
	l := log.WithFields(log.Fields{
		"package":  "portfolio",
		"func":     "Holders",
		"chain":    chain,
		"contract": contract,
	})
	var out []schema.TokenHolder
	err := s.cached(cache.Key(cache.HoldersPrefix, chain, contract), &out, func() error {
		var err error
		out, err = s.p.GetTokenHolders(ctx, chain, contract)
		if err != nil {
			return err
		}
		md, merr := s.Metadata(ctx, chain, []string{contract})
		if merr != nil {
			l.Warnf("no metadata for holder shares: %v", merr)
			return nil
		}
		if len(md) > 0 {
			applyShares(out, md[0].TotalSupply)
		}
		return nil
	})
	if err != nil {
		l.Error(err)
	}
	return out, err
}

func applyShares(holders []schema.TokenHolder, totalSupply string) {
	supply, err := decimal.NewFromString(strings.TrimSpace(totalSupply))
	if err != nil || !supply.IsPositive() {
		return
	}
	hundred := decimal.NewFromInt(100)
	whaleLine := supply.Mul(decimal.NewFromInt(whaleSharePercent))
	for i := range holders {
		bal, err := decimal.NewFromString(holders[i].Balance)
		if err != nil {
			continue
		}
		holders[i].Percentage = bal.Div(supply).Mul(hundred).Round(4)
		holders[i].IsWhale = bal.Mul(hundred).GreaterThanOrEqual(whaleLine)
	}
}

// Whales reports the holders of contract owning at least 5% of its total supply.
func (s *Service) Whales(ctx context.Context, chain, contract string) (*schema.WhaleReport, error) {
	l := log.WithFields(log.Fields{
		"package":  "portfolio",
		"func":     "Whales",
		"chain":    chain,
		"contract": contract,
	})
	l.Info("start")
	md, err := s.Metadata(ctx, chain, []string{contract})
	if err != nil {
		l.Error(err)
		return nil, lookupErr(err, "token metadata", contract)
	}
	if len(md) == 0 {
		err := errors.Wrapf(ErrNotFound, "token metadata for %s", contract)
		l.Error(err)
		return nil, err
	}
	holders, err := s.Holders(ctx, chain, contract)
	if err != nil {
		return nil, lookupErr(err, "holders", contract)
	}
	r := &schema.WhaleReport{
		TokenInfo:       md[0],
		Holders:         holders,
		Whales:          []schema.TokenHolder{},
		WhalePercentage: decimal.Zero,
		TotalHolders:    len(holders),
	}
	for _, h := range holders {
		if h.IsWhale {
			r.Whales = append(r.Whales, h)
			r.WhalePercentage = r.WhalePercentage.Add(h.Percentage)
		}
	}
	r.WhaleCount = len(r.Whales)
	l.Infof("%d whales among %d holders", r.WhaleCount, r.TotalHolders)
	return r, nil
}

// lookupErr reports a provider miss as ErrNotFound and keeps every other failure as is.
func lookupErr(err error, what, query string) error {
	if errors.Cause(err) == nodit.ErrNotFound {
		return errors.Wrapf(ErrNotFound, "%s %s", what, query)
	}
	return errors.Wrapf(err, "%s lookup %s", what, query)
}

// ClassifyQuery decides what an explorer query looks like.
func ClassifyQuery(q string) schema.SearchKind {
	switch {
	case txHashRe.MatchString(q):
		return schema.SearchTransaction
	case evmAddressRe.MatchString(q), tronAddrRe.MatchString(q):
		return schema.SearchContract
	}
	return schema.SearchAccount
}

// Search looks a query up as a transaction hash, a token contract or an account.
// An address that is not a token contract is searched as an account.
func (s *Service) Search(ctx context.Context, chain, query string) (*schema.SearchResult, error) {
	l := log.WithFields(log.Fields{
		"package": "portfolio",
		"func":    "Search",
		"chain":   chain,
		"query":   query,
	})
	l.Info("start")
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Wrap(ErrInvalidQuery, "query is empty")
	}
	switch ClassifyQuery(query) {
	case schema.SearchTransaction:
		raw, err := s.p.GetTransactionByHash(ctx, chain, query)
		if err != nil {
			l.Error(err)
			return nil, lookupErr(err, "transaction", query)
		}
		return &schema.SearchResult{Type: schema.SearchTransaction, Data: raw}, nil
	case schema.SearchContract:
		view, err := s.contract(ctx, chain, query)
		if err != nil {
			l.Error(err)
			return nil, lookupErr(err, "contract", query)
		}
		if view != nil {
			return &schema.SearchResult{Type: schema.SearchContract, Data: view}, nil
		}
		l.Debug("no token metadata, searching as account")
	}
	view, err := s.account(ctx, chain, query)
	if err != nil {
		l.Error(err)
		return nil, lookupErr(err, "account", query)
	}
	return &schema.SearchResult{Type: schema.SearchAccount, Data: view}, nil
}

// contract returns nil without error when the address has no token metadata.
func (s *Service) contract(ctx context.Context, chain, address string) (*schema.ContractView, error) {
	md, err := s.Metadata(ctx, chain, []string{address})
	if err != nil {
		return nil, err
	}
	if len(md) == 0 {
		return nil, nil
	}
	holders, err := s.Holders(ctx, chain, address)
	if err != nil {
		return nil, err
	}
	if len(holders) > searchHolders {
		holders = holders[:searchHolders]
	}
	return &schema.ContractView{Metadata: &md[0], Holders: holders}, nil
}

func (s *Service) account(ctx context.Context, chain, address string) (*schema.AccountView, error) {
	view := &schema.AccountView{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		view.Tokens, err = s.Tokens(gctx, chain, address)
		return err
	})
	g.Go(func() error {
		var err error
		view.Transfers, err = s.Transfers(gctx, chain, address, searchTransfers)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}
