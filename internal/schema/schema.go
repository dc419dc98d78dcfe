package schema

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FlexString decodes a JSON string or number into its string form.
// The provider is not consistent about quoting numeric fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Transaction is one raw record as returned by the provider.
type Transaction struct {
	Hash            string     `json:"transactionHash"`
	BlockNumber     FlexString `json:"blockNumber"`
	BlockTimestamp  FlexString `json:"blockTimestamp"`
	FromAddr        string     `json:"from"`
	ToAddr          string     `json:"to"`
	Value           FlexString `json:"value"`
	ContractAddress string     `json:"contractAddress,omitempty"`
	TokenAddress    string     `json:"tokenAddress,omitempty"`
	TokenSymbol     string     `json:"tokenSymbol,omitempty"`
	Decimals        FlexString `json:"decimals,omitempty"`
	GasFee          FlexString `json:"gasFee,omitempty"`
	MethodID        string     `json:"methodId,omitempty"`
	Input           string     `json:"input,omitempty"`
}

// EnrichedTransaction is a Transaction with a price and a normalized timestamp.
type EnrichedTransaction struct {
	Hash         string          `json:"transaction_hash"`
	BlockNumber  int64           `json:"block_number"`
	Timestamp    time.Time       `json:"timestamp"`
	FromAddr     string          `json:"from_address"`
	ToAddr       string          `json:"to_address"`
	Value        string          `json:"value"`
	TokenAddress string          `json:"token_address"`
	TokenSymbol  string          `json:"token_symbol"`
	Decimals     int32           `json:"decimals"`
	GasFee       string          `json:"gas_fee,omitempty"`
	MethodID     string          `json:"method_id,omitempty"`
	PriceUSD     decimal.Decimal `json:"price_usd"`

	// data quality flags, set when a default replaced unusable input
	TimestampDefaulted bool `json:"timestamp_defaulted,omitempty"`
	PriceMissing       bool `json:"price_missing,omitempty"`
}

type TransactionType string

const (
	TypeBuy      TransactionType = "buy"
	TypeSell     TransactionType = "sell"
	TypeAirdrop  TransactionType = "airdrop"
	TypeBurn     TransactionType = "burn"
	TypeTransfer TransactionType = "transfer"
	TypeApproval TransactionType = "approval"
	TypeUnknown  TransactionType = "unknown"
)

type ClassifiedTransaction struct {
	EnrichedTransaction
	Type TransactionType `json:"transaction_type"`
}

// Lot is one undisposed acquisition.
type Lot struct {
	Amount      decimal.Decimal `json:"amount"`
	UnitCostUSD decimal.Decimal `json:"unit_cost_usd"`
	AcquiredAt  time.Time       `json:"acquired_at"`
}

type Classification string

const (
	ShortTerm  Classification = "short_term"
	LongTerm   Classification = "long_term"
	Income     Classification = "income"
	NonTaxable Classification = "non_taxable"
)

type TaxableEvent struct {
	ID              string           `json:"id"`
	TransactionHash string           `json:"transaction_hash"`
	Timestamp       time.Time        `json:"timestamp"`
	Type            TransactionType  `json:"type"`
	TokenSymbol     string           `json:"token_symbol"`
	TokenAddress    string           `json:"token_address"`
	Amount          decimal.Decimal  `json:"amount"`
	PriceUSD        decimal.Decimal  `json:"price_usd"`
	CostBasis       *decimal.Decimal `json:"cost_basis,omitempty"`
	Proceeds        *decimal.Decimal `json:"proceeds,omitempty"`
	GainLoss        *decimal.Decimal `json:"gain_loss,omitempty"`
	FeeUSD          *decimal.Decimal `json:"fee_usd,omitempty"`
	Classification  Classification   `json:"classification"`
}

type TaxSummary struct {
	TotalGains        decimal.Decimal `json:"total_gains"`
	TotalLosses       decimal.Decimal `json:"total_losses"`
	NetGainLoss       decimal.Decimal `json:"net_gain_loss"`
	ShortTermGains    decimal.Decimal `json:"short_term_gains"`
	LongTermGains     decimal.Decimal `json:"long_term_gains"`
	TotalIncome       decimal.Decimal `json:"total_income"`
	TotalFees         decimal.Decimal `json:"total_fees"`
	TotalTransactions int             `json:"total_transactions"`
}

type CostBasisMethod string

const (
	FIFO        CostBasisMethod = "fifo"
	LIFO        CostBasisMethod = "lifo"
	AverageCost CostBasisMethod = "average_cost"
)

type TaxReportRequest struct {
	Address         string          `json:"address"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	Country         string          `json:"country"`
	CostBasisMethod CostBasisMethod `json:"cost_basis_method"`
	Chain           string          `json:"chain"`
}

type ReportMetadata struct {
	ReportID            string         `json:"report_id"`
	Address             string         `json:"address"`
	Chain               string         `json:"chain"`
	Period              string         `json:"period"`
	Country             string         `json:"country"`
	Method              string         `json:"method"`
	GeneratedAt         time.Time      `json:"generated_at"`
	RawTransactions     int            `json:"raw_transactions"`
	DefaultedTimestamps int            `json:"defaulted_timestamps"`
	MissingPrices       int            `json:"missing_prices"`
	OpenLots            map[string]int `json:"open_lots,omitempty"`
}

type TaxReportResponse struct {
	Summary       TaxSummary     `json:"summary"`
	TaxableEvents []TaxableEvent `json:"taxable_events"`
	Metadata      ReportMetadata `json:"metadata"`
}
