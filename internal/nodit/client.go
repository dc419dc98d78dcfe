package nodit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/config"
	"github.com/robertlestak/wallet-ledger/internal/schema"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Chains the provider serves.
var Chains = []string{"ethereum", "bsc", "tron", "arbitrum", "polygon", "optimism"}

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrBadStatus        = errors.New("unexpected provider response status")
	ErrNotFound         = errors.New("not found by provider")
)

const defaultTransferLimit = 50

type Client struct {
	baseURL  string
	network  string
	apiKey   string
	pageSize int
	maxPages int

	hc      *http.Client
	limiter *rate.Limiter
}

func New(cfg *config.Config) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.NoditRPS > 0 {
		limit = rate.Limit(cfg.NoditRPS)
		burst = cfg.NoditRPS
	}
	pageSize := cfg.NoditPageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.NoditBaseURL, "/"),
		network:  cfg.NoditNetwork,
		apiKey:   cfg.NoditAPIKey,
		pageSize: pageSize,
		maxPages: cfg.MaxTxPages,
		hc:       &http.Client{Timeout: cfg.NoditTimeout},
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// SupportedChain reports whether chain has a provider endpoint.
func SupportedChain(chain string) bool {
	for _, c := range Chains {
		if c == chain {
			return true
		}
	}
	return false
}

func (c *Client) chainURL(chain string) (string, error) {
	if !SupportedChain(chain) {
		return "", errors.Wrapf(ErrUnsupportedChain, "%q", chain)
	}
	return fmt.Sprintf("%s/%s/%s", c.baseURL, chain, c.network), nil
}

// post sends body as JSON to path on the chain endpoint and decodes the reply into out.
func (c *Client) post(ctx context.Context, chain, path string, body interface{}, out interface{}) error {
	l := log.WithFields(log.Fields{
		"package": "nodit",
		"func":    "post",
		"chain":   chain,
		"path":    path,
	})
	base, err := c.chainURL(chain)
	if err != nil {
		l.Error(err)
		return err
	}
	jd, err := json.Marshal(body)
	if err != nil {
		l.Error(err)
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		l.Error(err)
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(jd))
	if err != nil {
		l.Error(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if log.IsLevelEnabled(log.DebugLevel) {
		rd, derr := httputil.DumpRequestOut(req, true)
		if derr == nil {
			l.Debugf("Request: %s", string(rd))
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		l.Error(err)
		return err
	}
	defer resp.Body.Close()
	bd, err := io.ReadAll(resp.Body)
	if err != nil {
		l.Error(err)
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		err = errors.Wrapf(ErrNotFound, "%s: %s", path, strings.TrimSpace(string(bd)))
		l.Error(err)
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = errors.Wrapf(ErrBadStatus, "%s: %s: %s", path, resp.Status, strings.TrimSpace(string(bd)))
		l.Error(err)
		return err
	}
	l.Debugf("Response: %s", string(bd))
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bd, out); err != nil {
		l.Error(err)
		return errors.Wrapf(err, "decoding %s response", path)
	}
	return nil
}

type txPage struct {
	Page  int                  `json:"page"`
	RPP   int                  `json:"rpp"`
	Items []schema.Transaction `json:"items"`
}

// GetTransactionsByAccount returns every transaction of account between the two
// YYYY-MM-DD dates, inclusive, walking pages until a short page or the page cap.
func (c *Client) GetTransactionsByAccount(ctx context.Context, chain, account, startDate, endDate string) ([]schema.Transaction, error) {
	l := log.WithFields(log.Fields{
		"package": "nodit",
		"func":    "GetTransactionsByAccount",
		"chain":   chain,
		"account": account,
		"start":   startDate,
		"end":     endDate,
	})
	l.Info("start")
	txs := []schema.Transaction{}
	for page := 1; c.maxPages <= 0 || page <= c.maxPages; page++ {
		var p txPage
		err := c.post(ctx, chain, "/transaction/getTransactionsByAccount", map[string]interface{}{
			"accountAddress": account,
			"fromDate":       startDate + "T00:00:00+00:00",
			"toDate":         endDate + "T23:59:59+00:00",
			"page":           page,
			"rpp":            c.pageSize,
			"withCount":      false,
			"withLogs":       false,
			"withDecode":     false,
		}, &p)
		if err != nil {
			l.Error(err)
			return nil, err
		}
		txs = append(txs, p.Items...)
		l.Debugf("page %d: %d transactions", page, len(p.Items))
		if len(p.Items) < c.pageSize {
			break
		}
	}
	l.Infof("fetched %d transactions", len(txs))
	return txs, nil
}

type priceItem struct {
	Price               schema.FlexString `json:"price"`
	PercentChangeFor24h schema.FlexString `json:"percentChangeFor24h"`
	UpdatedAt           string            `json:"updatedAt"`
}

// GetTokenPrices returns one price per requested contract. The provider answers
// positionally, so item i belongs to contracts[i].
func (c *Client) GetTokenPrices(ctx context.Context, chain string, contracts []string) ([]schema.TokenPrice, error) {
	l := log.WithFields(log.Fields{
		"package":   "nodit",
		"func":      "GetTokenPrices",
		"chain":     chain,
		"contracts": len(contracts),
	})
	l.Info("start")
	if len(contracts) == 0 {
		return []schema.TokenPrice{}, nil
	}
	var items []priceItem
	if err := c.post(ctx, chain, "/token/getTokenPricesByContracts", map[string]interface{}{
		"contractAddresses": contracts,
		"currency":          "USD",
	}, &items); err != nil {
		l.Error(err)
		return nil, err
	}
	prices := make([]schema.TokenPrice, 0, len(items))
	for i, it := range items {
		if i >= len(contracts) {
			l.Warnf("provider returned %d prices for %d contracts", len(items), len(contracts))
			break
		}
		prices = append(prices, schema.TokenPrice{
			ContractAddress: contracts[i],
			PriceUSD:        decimalOrZero(it.Price.String()),
			PriceChange24h:  decimalOrZero(it.PercentChangeFor24h.String()),
			Timestamp:       it.UpdatedAt,
		})
	}
	l.Infof("fetched %d prices", len(prices))
	return prices, nil
}

// FetchTransactions and FetchPrices let the client feed the tax report generator.
func (c *Client) FetchTransactions(ctx context.Context, chain, address, startDate, endDate string) ([]schema.Transaction, error) {
	return c.GetTransactionsByAccount(ctx, chain, address, startDate, endDate)
}

func (c *Client) FetchPrices(ctx context.Context, chain string, contracts []string) ([]schema.TokenPrice, error) {
	return c.GetTokenPrices(ctx, chain, contracts)
}
