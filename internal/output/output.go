package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robertlestak/wallet-ledger/internal/schema"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{"Date", "Type", "Token", "Amount", "Price USD", "Cost Basis", "Proceeds", "Gain/Loss", "Classification"}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// WriteCSV writes one row per taxable event. Absent optional amounts are empty cells.
func WriteCSV(w io.Writer, r *schema.TaxReportResponse) error {
	l := log.WithFields(log.Fields{
		"package": "output",
		"func":    "WriteCSV",
		"events":  len(r.TaxableEvents),
	})
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		l.Error(err)
		return err
	}
	for _, ev := range r.TaxableEvents {
		row := []string{
			ev.Timestamp.UTC().Format(time.RFC3339),
			string(ev.Type),
			ev.TokenSymbol,
			ev.Amount.String(),
			ev.PriceUSD.String(),
			optional(ev.CostBasis),
			optional(ev.Proceeds),
			optional(ev.GainLoss),
			string(ev.Classification),
		}
		if err := cw.Write(row); err != nil {
			l.Error(err)
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		l.Error(err)
		return err
	}
	return nil
}

func WriteJSON(w io.Writer, r *schema.TaxReportResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Write renders r in the given format.
func Write(w io.Writer, format string, r *schema.TaxReportResponse) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	}
	return fmt.Errorf("unknown export format %q", format)
}

func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Filename is the download name for an exported report.
func Filename(address string, day time.Time, format string) string {
	return fmt.Sprintf("tax-report-%s-%s.%s", address, day.UTC().Format("2006-01-02"), format)
}

// WriteFiles writes <dir>/<chain>_<address>.csv and .json and returns their paths.
func WriteFiles(dir string, r *schema.TaxReportResponse) ([]string, error) {
	l := log.WithFields(log.Fields{
		"package": "output",
		"func":    "WriteFiles",
		"dir":     dir,
	})
	l.Info("start")
	if err := os.MkdirAll(dir, 0755); err != nil {
		l.Error(err)
		return nil, err
	}
	base := fmt.Sprintf("%s_%s", r.Metadata.Chain, strings.ToLower(r.Metadata.Address))
	var paths []string
	for _, format := range []string{FormatCSV, FormatJSON} {
		p := filepath.Join(dir, base+"."+format)
		f, err := os.Create(p)
		if err != nil {
			l.Error(err)
			return paths, err
		}
		werr := Write(f, format, r)
		cerr := f.Close()
		if werr != nil {
			l.Error(werr)
			return paths, werr
		}
		if cerr != nil {
			l.Error(cerr)
			return paths, cerr
		}
		l.Infof("wrote %s", p)
		paths = append(paths, p)
	}
	return paths, nil
}
