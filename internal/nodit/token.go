package nodit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type contractInfo struct {
	Address     string            `json:"address"`
	Name        string            `json:"name"`
	Symbol      string            `json:"symbol"`
	Decimals    schema.FlexString `json:"decimals"`
	TotalSupply schema.FlexString `json:"totalSupply"`
}

func (ci contractInfo) metadata() schema.TokenMetadata {
	return schema.TokenMetadata{
		ContractAddress: ci.Address,
		Name:            ci.Name,
		Symbol:          ci.Symbol,
		Decimals:        int32(intOrZero(ci.Decimals.String())),
		TotalSupply:     ci.TotalSupply.String(),
	}
}

type ownedItem struct {
	OwnerAddress string            `json:"ownerAddress"`
	Balance      schema.FlexString `json:"balance"`
	Contract     contractInfo      `json:"contract"`
}

type transferItem struct {
	TransactionHash string            `json:"transactionHash"`
	BlockNumber     schema.FlexString `json:"blockNumber"`
	Timestamp       schema.FlexString `json:"timestamp"`
	From            string            `json:"from"`
	To              string            `json:"to"`
	Value           schema.FlexString `json:"value"`
	Contract        contractInfo      `json:"contract"`
}

type holderItem struct {
	OwnerAddress string            `json:"ownerAddress"`
	Balance      schema.FlexString `json:"balance"`
}

type itemsResponse struct {
	Items json.RawMessage `json:"items"`
}

func (c *Client) postItems(ctx context.Context, chain, path string, body interface{}, out interface{}) error {
	var r itemsResponse
	if err := c.post(ctx, chain, path, body, &r); err != nil {
		return err
	}
	if len(r.Items) == 0 || string(r.Items) == "null" {
		return nil
	}
	return json.Unmarshal(r.Items, out)
}

func (c *Client) GetTokensOwned(ctx context.Context, chain, account string) ([]schema.TokenHolding, error) {
	l := log.WithFields(log.Fields{
		"package": "nodit",
		"func":    "GetTokensOwned",
		"chain":   chain,
		"account": account,
	})
	l.Info("start")
	var items []ownedItem
	if err := c.postItems(ctx, chain, "/token/getTokensOwnedByAccount", map[string]interface{}{
		"accountAddress": account,
		"withCount":      false,
	}, &items); err != nil {
		l.Error(err)
		return nil, err
	}
	out := make([]schema.TokenHolding, 0, len(items))
	for _, it := range items {
		md := it.Contract.metadata()
		out = append(out, schema.TokenHolding{
			ContractAddress: md.ContractAddress,
			Symbol:          md.Symbol,
			Name:            md.Name,
			Decimals:        md.Decimals,
			Balance:         it.Balance.String(),
		})
	}
	return out, nil
}

// GetTransfers returns the most recent token transfers of account, at most limit.
func (c *Client) GetTransfers(ctx context.Context, chain, account string, limit int) ([]schema.Transfer, error) {
	l := log.WithFields(log.Fields{
		"package": "nodit",
		"func":    "GetTransfers",
		"chain":   chain,
		"account": account,
		"limit":   limit,
	})
	l.Info("start")
	if limit <= 0 {
		limit = defaultTransferLimit
	}
	var items []transferItem
	if err := c.postItems(ctx, chain, "/token/getTokenTransfersByAccount", map[string]interface{}{
		"accountAddress": account,
		"rpp":            limit,
		"withCount":      false,
	}, &items); err != nil {
		l.Error(err)
		return nil, err
	}
	out := make([]schema.Transfer, 0, len(items))
	for _, it := range items {
		out = append(out, schema.Transfer{
			TransactionHash: it.TransactionHash,
			BlockNumber:     int64(intOrZero(it.BlockNumber.String())),
			Timestamp:       it.Timestamp.String(),
			FromAddress:     it.From,
			ToAddress:       it.To,
			Value:           it.Value,
			TokenAddress:    it.Contract.Address,
			TokenSymbol:     it.Contract.Symbol,
		})
	}
	return out, nil
}

// GetTokenHolders lists holders of contract. Percentages are left at zero; the
// provider does not report them.
func (c *Client) GetTokenHolders(ctx context.Context, chain, contract string) ([]schema.TokenHolder, error) {
	l := log.WithFields(log.Fields{
		"package":  "nodit",
		"func":     "GetTokenHolders",
		"chain":    chain,
		"contract": contract,
	})
	l.Info("start")
	var items []holderItem
	if err := c.postItems(ctx, chain, "/token/getTokenHoldersByContract", map[string]interface{}{
		"contractAddress": contract,
		"withCount":       false,
	}, &items); err != nil {
		l.Error(err)
		return nil, err
	}
	out := make([]schema.TokenHolder, 0, len(items))
	for _, it := range items {
		out = append(out, schema.TokenHolder{
			Address:    it.OwnerAddress,
			Balance:    it.Balance.String(),
			Percentage: decimal.Zero,
		})
	}
	return out, nil
}

func (c *Client) GetTokenMetadata(ctx context.Context, chain string, contracts []string) ([]schema.TokenMetadata, error) {
	l := log.WithFields(log.Fields{
		"package":   "nodit",
		"func":      "GetTokenMetadata",
		"chain":     chain,
		"contracts": len(contracts),
	})
	l.Info("start")
	var items []contractInfo
	if err := c.postItems(ctx, chain, "/token/getTokenContractMetadataByContracts", map[string]interface{}{
		"contractAddresses": contracts,
	}, &items); err != nil {
		l.Error(err)
		return nil, err
	}
	out := make([]schema.TokenMetadata, 0, len(items))
	for _, it := range items {
		out = append(out, it.metadata())
	}
	return out, nil
}

// GetTransactionByHash returns the provider's transaction document unchanged.
func (c *Client) GetTransactionByHash(ctx context.Context, chain, hash string) (json.RawMessage, error) {
	l := log.WithFields(log.Fields{
		"package": "nodit",
		"func":    "GetTransactionByHash",
		"chain":   chain,
		"hash":    hash,
	})
	l.Info("start")
	var raw json.RawMessage
	if err := c.post(ctx, chain, "/transaction/getTransactionByHash", map[string]interface{}{
		"transactionHash": hash,
	}, &raw); err != nil {
		l.Error(err)
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		err := errors.Wrapf(ErrNotFound, "transaction %s", hash)
		l.Error(err)
		return nil, err
	}
	return raw, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func intOrZero(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0
	}
	return v
}
