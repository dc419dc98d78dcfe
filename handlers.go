package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/nodit"
	"github.com/robertlestak/wallet-ledger/internal/output"
	"github.com/robertlestak/wallet-ledger/internal/portfolio"
	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/robertlestak/wallet-ledger/internal/tax"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	defaultChain       = "ethereum"
	portfolioTransfers = 20
)

type accountRequest struct {
	AccountAddress string `json:"accountAddress"`
	Chain          string `json:"chain"`
	Limit          int    `json:"limit"`
}

type contractsRequest struct {
	ContractAddresses []string `json:"contractAddresses"`
	ContractAddress   string   `json:"contractAddress"`
	Chain             string   `json:"chain"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jd, err := json.Marshal(v)
	if err != nil {
		log.WithField("func", "writeJSON").Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jd)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps an error to the HTTP status returned to the caller.
func statusFor(err error) int {
	cause := errors.Cause(err)
	var ue *url.Error
	switch {
	case tax.IsRequestError(err), cause == nodit.ErrUnsupportedChain, cause == portfolio.ErrInvalidQuery:
		return http.StatusBadRequest
	case cause == portfolio.ErrNotFound, cause == nodit.ErrNotFound:
		return http.StatusNotFound
	case cause == nodit.ErrBadStatus, errors.As(err, &ue):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v and validates the chain, defaulting it to ethereum.
func decode(w http.ResponseWriter, r *http.Request, v interface{}, chain *string) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if *chain == "" {
		*chain = defaultChain
	}
	if !nodit.SupportedChain(*chain) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported chain: %s", *chain))
		return false
	}
	return true
}

func handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (a *app) handleTokensByAccount(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleTokensByAccount",
	})
	l.Info("start")
	var req accountRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.AccountAddress == "" {
		writeError(w, http.StatusBadRequest, "accountAddress is required")
		return
	}
	items, err := a.dash.Tokens(r.Context(), req.Chain, req.AccountAddress)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (a *app) handleTransfersByAccount(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleTransfersByAccount",
	})
	l.Info("start")
	var req accountRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.AccountAddress == "" {
		writeError(w, http.StatusBadRequest, "accountAddress is required")
		return
	}
	items, err := a.dash.Transfers(r.Context(), req.Chain, req.AccountAddress, req.Limit)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (a *app) handleTokenPrices(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleTokenPrices",
	})
	l.Info("start")
	var req contractsRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if len(req.ContractAddresses) == 0 {
		writeError(w, http.StatusBadRequest, "contractAddresses is required")
		return
	}
	prices, err := a.dash.Prices(r.Context(), req.Chain, req.ContractAddresses)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": prices})
}

func (a *app) handleBalanceChanges(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleBalanceChanges",
	})
	l.Info("start")
	var req accountRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.AccountAddress == "" {
		writeError(w, http.StatusBadRequest, "accountAddress is required")
		return
	}
	items, err := a.dash.BalanceChanges(r.Context(), req.Chain, req.AccountAddress)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (a *app) handleTokenHolders(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleTokenHolders",
	})
	l.Info("start")
	var req contractsRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.ContractAddress == "" {
		writeError(w, http.StatusBadRequest, "contractAddress is required")
		return
	}
	items, err := a.dash.Holders(r.Context(), req.Chain, req.ContractAddress)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (a *app) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handlePortfolio",
	})
	l.Info("start")
	var req accountRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.AccountAddress == "" {
		writeError(w, http.StatusBadRequest, "accountAddress is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = portfolioTransfers
	}
	view, err := a.dash.Portfolio(r.Context(), req.Chain, req.AccountAddress, req.Limit)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleMultiChainPortfolio values the account on every supported chain; the
// chain field of the request is ignored.
func (a *app) handleMultiChainPortfolio(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleMultiChainPortfolio",
	})
	l.Info("start")
	var req accountRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.AccountAddress == "" {
		writeError(w, http.StatusBadRequest, "accountAddress is required")
		return
	}
	views := a.dash.MultiChain(r.Context(), nodit.Chains, req.AccountAddress)
	total := decimal.Zero
	for _, v := range views {
		total = total.Add(v.TotalValueUSD)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chains": views, "total_value": total})
}

func (a *app) handleWhales(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleWhales",
	})
	l.Info("start")
	var req contractsRequest
	if !decode(w, r, &req, &req.Chain) {
		return
	}
	if req.ContractAddress == "" {
		writeError(w, http.StatusBadRequest, "contractAddress is required")
		return
	}
	report, err := a.dash.Whales(r.Context(), req.Chain, req.ContractAddress)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleSearch",
	})
	l.Info("start")
	chain := r.FormValue("chain")
	if chain == "" {
		chain = defaultChain
	}
	if !nodit.SupportedChain(chain) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported chain: %s", chain))
		return
	}
	res, err := a.dash.Search(r.Context(), chain, r.FormValue("q"))
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *app) taxReport(w http.ResponseWriter, r *http.Request) (*schema.TaxReportResponse, bool) {
	l := log.WithFields(log.Fields{
		"func": "taxReport",
	})
	var req schema.TaxReportRequest
	if !decode(w, r, &req, &req.Chain) {
		return nil, false
	}
	report, err := a.reports.GenerateTaxReport(r.Context(), req)
	if err != nil {
		l.Error(err)
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return report, true
}

func (a *app) handleTaxReport(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleTaxReport",
	})
	l.Info("start")
	report, ok := a.taxReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *app) handleTaxReportExport(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleTaxReportExport",
	})
	l.Info("start")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = output.FormatCSV
	}
	if format != output.FormatCSV && format != output.FormatJSON {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format: %s", format))
		return
	}
	report, ok := a.taxReport(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := output.Write(&buf, format, report); err != nil {
		l.Error(err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	fn := output.Filename(report.Metadata.Address, a.now(), format)
	w.Header().Set("Content-Type", output.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fn))
	w.Write(buf.Bytes())
}
