package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/robertlestak/wallet-ledger/internal/cache"
	"github.com/robertlestak/wallet-ledger/internal/config"
	"github.com/robertlestak/wallet-ledger/internal/nodit"
	"github.com/robertlestak/wallet-ledger/internal/output"
	"github.com/robertlestak/wallet-ledger/internal/portfolio"
	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/robertlestak/wallet-ledger/internal/tax"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

func init() {
	// amounts go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

type app struct {
	reports *tax.Generator
	dash    *portfolio.Service
	now     func() time.Time
}

func setLogLevel(level string) {
	ll, err := log.ParseLevel(level)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
}

func newRouter(a *app) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthcheck).Methods("GET")
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/getTokensByAccount", a.handleTokensByAccount).Methods("POST")
	api.HandleFunc("/getTokenTransfersByAccount", a.handleTransfersByAccount).Methods("POST")
	api.HandleFunc("/getTokenPrices", a.handleTokenPrices).Methods("POST")
	api.HandleFunc("/getTokenBalanceChangesByAccount", a.handleBalanceChanges).Methods("POST")
	api.HandleFunc("/getTokenHoldersByContract", a.handleTokenHolders).Methods("POST")
	api.HandleFunc("/getWhalesByContract", a.handleWhales).Methods("POST")
	api.HandleFunc("/getPortfolioByAccount", a.handlePortfolio).Methods("POST")
	api.HandleFunc("/getMultiChainPortfolio", a.handleMultiChainPortfolio).Methods("POST")
	api.HandleFunc("/search", a.handleSearch).Methods("GET")
	api.HandleFunc("/tax-report", a.handleTaxReport).Methods("POST")
	api.HandleFunc("/tax-report/export", a.handleTaxReportExport).Methods("POST")
	return r
}

func server(cfg *config.Config) error {
	l := log.WithFields(log.Fields{
		"func": "server",
	})
	l.Info("start")
	client := nodit.New(cfg)
	c, err := cache.New(cfg)
	if err != nil {
		l.Error(err)
		return err
	}
	a := &app{
		reports: tax.NewGenerator(client),
		dash:    portfolio.New(client, c),
		now:     time.Now,
	}
	r := newRouter(a)
	l.Infof("Listening on port %s", cfg.Port)
	co := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowCredentials: true,
		Debug:            cfg.CORSDebug,
	})
	h := co.Handler(r)
	if err := http.ListenAndServe(":"+cfg.Port, h); err != nil {
		return err
	}
	return nil
}

func cli(cfg *config.Config, args []string) error {
	l := log.WithFields(log.Fields{
		"func": "cli",
	})
	l.Info("start")
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	var req schema.TaxReportRequest
	var method string
	fs.StringVar(&req.Address, "a", "", "wallet address")
	fs.StringVar(&req.Chain, "n", "ethereum", "chain")
	fs.StringVar(&req.StartDate, "s", "", "start date (YYYY-MM-DD)")
	fs.StringVar(&req.EndDate, "e", "", "end date (YYYY-MM-DD)")
	fs.StringVar(&method, "m", string(schema.FIFO), "cost basis method: fifo, lifo, average_cost")
	fs.StringVar(&req.Country, "c", "US", "country")
	fs.StringVar(&cfg.OutputDir, "o", cfg.OutputDir, "output directory")
	fs.Parse(args)
	req.CostBasisMethod = schema.CostBasisMethod(method)
	if req.Address == "" {
		return fmt.Errorf("address is required")
	}
	report, err := tax.NewGenerator(nodit.New(cfg)).GenerateTaxReport(context.Background(), req)
	if err != nil {
		l.Error(err)
		return err
	}
	paths, err := output.WriteFiles(cfg.OutputDir, report)
	if err != nil {
		l.Error(err)
		return err
	}
	for _, p := range paths {
		l.Infof("wrote %s", p)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report.Summary)
}

func main() {
	l := log.WithFields(log.Fields{
		"func": "main",
	})
	cfg := config.Load()
	setLogLevel(cfg.LogLevel)
	l.Info("start")
	if len(os.Args) < 2 {
		l.Error("no command, expected server or cli")
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "server":
		err = server(cfg)
	case "cli":
		err = cli(cfg, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		l.Error(err)
		os.Exit(1)
	}
}
