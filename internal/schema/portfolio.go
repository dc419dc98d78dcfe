package schema

import "github.com/shopspring/decimal"

type TokenHolding struct {
	ContractAddress string          `json:"contract_address"`
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Decimals        int32           `json:"decimals"`
	Balance         string          `json:"balance"`

	// set when holdings are priced
	BalanceFormatted decimal.Decimal `json:"balance_formatted"`
	PriceUSD         decimal.Decimal `json:"price_usd"`
	PriceChange24h   decimal.Decimal `json:"price_change_24h"`
	ValueUSD         decimal.Decimal `json:"value_usd"`
}

// PortfolioView is an account's priced holdings and recent transfers on one chain.
type PortfolioView struct {
	Chain         string          `json:"chain"`
	Tokens        []TokenHolding  `json:"tokens"`
	Transfers     []Transfer      `json:"transfers"`
	TotalValueUSD decimal.Decimal `json:"total_value"`
	TokenCount    int             `json:"token_count"`
	TransferCount int             `json:"transfer_count"`
	HasActivity   bool            `json:"has_activity"`
	Error         string          `json:"error,omitempty"`
}

type Transfer struct {
	TransactionHash string     `json:"transaction_hash"`
	BlockNumber     int64      `json:"block_number"`
	Timestamp       string     `json:"timestamp"`
	FromAddress     string     `json:"from_address"`
	ToAddress       string     `json:"to_address"`
	Value           FlexString `json:"value"`
	TokenAddress    string     `json:"token_address"`
	TokenSymbol     string     `json:"token_symbol"`
	GasFee          string     `json:"gas_fee,omitempty"`
}

type TokenPrice struct {
	ContractAddress string          `json:"contract_address"`
	PriceUSD        decimal.Decimal `json:"price_usd"`
	PriceChange24h  decimal.Decimal `json:"price_change_24h"`
	Timestamp       string          `json:"timestamp,omitempty"`
}

type TokenHolder struct {
	Address    string          `json:"address"`
	Balance    string          `json:"balance"`
	Percentage decimal.Decimal `json:"percentage"`
	IsWhale    bool            `json:"is_whale"`
}

// WhaleReport lists the holders of a token owning at least 5% of its supply.
type WhaleReport struct {
	TokenInfo       TokenMetadata   `json:"token_info"`
	Holders         []TokenHolder   `json:"holders"`
	Whales          []TokenHolder   `json:"whales"`
	WhaleCount      int             `json:"whale_count"`
	WhalePercentage decimal.Decimal `json:"whale_percentage"`
	TotalHolders    int             `json:"total_holders"`
}

type TokenMetadata struct {
	ContractAddress string `json:"contract_address"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int32  `json:"decimals"`
	TotalSupply     string `json:"total_supply"`
}

type SearchKind string

const (
	SearchTransaction SearchKind = "transaction"
	SearchContract    SearchKind = "contract"
	SearchAccount     SearchKind = "account"
)

type SearchResult struct {
	Type SearchKind  `json:"type"`
	Data interface{} `json:"data"`
}

type ContractView struct {
	Metadata *TokenMetadata `json:"metadata"`
	Holders  []TokenHolder  `json:"holders"`
}

type AccountView struct {
	Tokens    []TokenHolding `json:"tokens"`
	Transfers []Transfer     `json:"transfers"`
}
