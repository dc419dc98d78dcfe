package nodit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/config"
	"github.com/robertlestak/wallet-ledger/internal/tax"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ tax.Source = (*Client)(nil)

type recorded struct {
	path string
	body map[string]interface{}
	key  string
}

type provider struct {
	mu    sync.Mutex
	calls []recorded
	reply func(path string, body map[string]interface{}) (int, interface{})
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.calls = append(p.calls, recorded{path: r.URL.Path, body: body, key: r.Header.Get("x-api-key")})
	p.mu.Unlock()
	status, out := p.reply(r.URL.Path, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func newTestClient(t *testing.T, p *provider, pageSize, maxPages int) *Client {
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return New(&config.Config{
		NoditAPIKey:   "test-key",
		NoditBaseURL:  srv.URL + "/",
		NoditNetwork:  "mainnet",
		NoditTimeout:  5 * time.Second,
		NoditPageSize: pageSize,
		MaxTxPages:    maxPages,
	})
}

func txItems(from, n int) []map[string]interface{} {
	var out []map[string]interface{}
	for i := from; i < from+n; i++ {
		out = append(out, map[string]interface{}{
			"transactionHash": fmt.Sprintf("0x%02d", i),
			"blockNumber":     i,
			"blockTimestamp":  1700000000 + i,
			"from":            "0xa",
			"to":              "0xb",
			"value":           "1000",
		})
	}
	return out
}

func TestGetTransactionsByAccountPaginates(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		page := int(body["page"].(float64))
		switch page {
		case 1:
			return 200, map[string]interface{}{"items": txItems(0, 2)}
		case 2:
			return 200, map[string]interface{}{"items": txItems(2, 2)}
		default:
			return 200, map[string]interface{}{"items": txItems(4, 1)}
		}
	}}
	c := newTestClient(t, p, 2, 0)
	txs, err := c.GetTransactionsByAccount(context.Background(), "ethereum", "0xme", "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	require.Len(t, txs, 5)
	assert.Equal(t, "0x04", txs[4].Hash)
	assert.Equal(t, "1700000003", txs[3].BlockTimestamp.String())

	require.Len(t, p.calls, 3)
	first := p.calls[0]
	assert.Equal(t, "/ethereum/mainnet/transaction/getTransactionsByAccount", first.path)
	assert.Equal(t, "test-key", first.key)
	assert.Equal(t, "0xme", first.body["accountAddress"])
	assert.Equal(t, "2024-01-01T00:00:00+00:00", first.body["fromDate"])
	assert.Equal(t, "2024-12-31T23:59:59+00:00", first.body["toDate"])
	assert.Equal(t, float64(2), first.body["rpp"])
	assert.Equal(t, false, first.body["withDecode"])
}

func TestGetTransactionsByAccountStopsAtPageCap(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		return 200, map[string]interface{}{"items": txItems(0, 2)}
	}}
	c := newTestClient(t, p, 2, 2)
	txs, err := c.GetTransactionsByAccount(context.Background(), "polygon", "0xme", "2024-01-01", "2024-01-02")
	require.NoError(t, err)
	assert.Len(t, txs, 4)
	assert.Len(t, p.calls, 2)
}

func TestBadStatusIsAnError(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		return http.StatusTooManyRequests, map[string]string{"message": "slow down"}
	}}
	c := newTestClient(t, p, 10, 0)
	_, err := c.FetchTransactions(context.Background(), "ethereum", "0xme", "2024-01-01", "2024-01-02")
	require.Error(t, err)
	assert.Equal(t, ErrBadStatus, errors.Cause(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestMissingIsNotFound(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		if path == "/ethereum/mainnet/transaction/getTransactionByHash" {
			return http.StatusOK, nil
		}
		return http.StatusNotFound, map[string]string{"message": "no such contract"}
	}}
	c := newTestClient(t, p, 10, 0)
	_, err := c.GetTokenHolders(context.Background(), "ethereum", "0xnone")
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, errors.Cause(err))
	assert.Contains(t, err.Error(), "no such contract")

	_, err = c.GetTransactionByHash(context.Background(), "ethereum", "0xabc")
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}

func TestUnsupportedChain(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		return 200, nil
	}}
	c := newTestClient(t, p, 10, 0)
	_, err := c.GetTokenPrices(context.Background(), "dogecoin", []string{"0xa"})
	assert.Equal(t, ErrUnsupportedChain, errors.Cause(err))
	assert.Empty(t, p.calls)
}

func TestGetTokenPricesMapsByPosition(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		return 200, []map[string]interface{}{
			{"price": "1850.25", "percentChangeFor24h": "-1.5", "updatedAt": "2024-05-01T00:00:00Z"},
			{"price": "not-a-price"},
		}
	}}
	c := newTestClient(t, p, 10, 0)
	prices, err := c.FetchPrices(context.Background(), "arbitrum", []string{"0xWETH", "0xJUNK"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "0xWETH", prices[0].ContractAddress)
	assert.True(t, decimal.RequireFromString("1850.25").Equal(prices[0].PriceUSD))
	assert.True(t, decimal.RequireFromString("-1.5").Equal(prices[0].PriceChange24h))
	assert.Equal(t, "0xJUNK", prices[1].ContractAddress)
	assert.True(t, prices[1].PriceUSD.IsZero())

	body := p.calls[0].body
	assert.Equal(t, "USD", body["currency"])
	assert.Equal(t, "/arbitrum/mainnet/token/getTokenPricesByContracts", p.calls[0].path)
}

func TestGetTokenPricesSkipsEmptyRequest(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		return 200, []interface{}{}
	}}
	c := newTestClient(t, p, 10, 0)
	prices, err := c.GetTokenPrices(context.Background(), "ethereum", nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
	assert.Empty(t, p.calls)
}

func TestDashboardEndpoints(t *testing.T) {
	p := &provider{reply: func(path string, body map[string]interface{}) (int, interface{}) {
		switch path {
		case "/bsc/mainnet/token/getTokensOwnedByAccount":
			return 200, map[string]interface{}{"items": []map[string]interface{}{
				{"ownerAddress": "0xme", "balance": "5000", "contract": map[string]interface{}{"address": "0xc", "symbol": "CAKE", "name": "Cake", "decimals": 18}},
			}}
		case "/bsc/mainnet/token/getTokenTransfersByAccount":
			return 200, map[string]interface{}{"items": []map[string]interface{}{
				{"transactionHash": "0xt", "blockNumber": 9, "timestamp": "2024-01-01T00:00:00Z", "from": "0xa", "to": "0xme", "value": "7", "contract": map[string]interface{}{"address": "0xc", "symbol": "CAKE"}},
			}}
		case "/bsc/mainnet/token/getTokenHoldersByContract":
			return 200, map[string]interface{}{"items": []map[string]interface{}{
				{"ownerAddress": "0xwhale", "balance": "900"},
			}}
		case "/bsc/mainnet/token/getTokenContractMetadataByContracts":
			return 200, map[string]interface{}{"items": []map[string]interface{}{
				{"address": "0xc", "name": "Cake", "symbol": "CAKE", "decimals": "18", "totalSupply": "1000"},
			}}
		case "/bsc/mainnet/transaction/getTransactionByHash":
			return 200, map[string]interface{}{"transactionHash": body["transactionHash"]}
		}
		return 404, map[string]string{"message": "no route"}
	}}
	c := newTestClient(t, p, 10, 0)
	ctx := context.Background()

	owned, err := c.GetTokensOwned(ctx, "bsc", "0xme")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "CAKE", owned[0].Symbol)
	assert.Equal(t, int32(18), owned[0].Decimals)
	assert.Equal(t, "5000", owned[0].Balance)

	transfers, err := c.GetTransfers(ctx, "bsc", "0xme", 0)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(9), transfers[0].BlockNumber)
	assert.Equal(t, "0xc", transfers[0].TokenAddress)
	assert.Equal(t, float64(defaultTransferLimit), p.calls[1].body["rpp"])

	holders, err := c.GetTokenHolders(ctx, "bsc", "0xc")
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, "0xwhale", holders[0].Address)

	md, err := c.GetTokenMetadata(ctx, "bsc", []string{"0xc"})
	require.NoError(t, err)
	require.Len(t, md, 1)
	assert.Equal(t, "1000", md[0].TotalSupply)
	assert.Equal(t, int32(18), md[0].Decimals)

	raw, err := c.GetTransactionByHash(ctx, "bsc", "0xt")
	require.NoError(t, err)
	assert.JSONEq(t, `{"transactionHash":"0xt"}`, string(raw))
}
