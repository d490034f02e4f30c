package ledger

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	CSVContentType  = "text/csv; charset=utf-8"
	WordContentType = "application/msword"

	// DefaultFilePrefix starts every export filename.
	DefaultFilePrefix = "dh_finance"

	// CreatedAtLayout is how creation timestamps appear in exports. They are
	// always rendered in UTC so both stores produce the same text.
	CreatedAtLayout = "2006-01-02T15:04:05.000000"

	displayDateLayout = "02 January 2006"
	exportTimeLayout  = "02 January 2006 15:04:05"
)

var (
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	csvHeader = []string{"No", "Tanggal", "Jenis", "Keterangan", "Jumlah", "Mata Uang", "Bukti Transfer", "Dibuat Pada"}
)

// Report is the input of a document export. Transactions must already be
// filtered; Stats must have been computed over the same collection.
type Report struct {
	Owner        string
	Currency     Currency
	Transactions []Transaction
	Stats        Stats
	FilterDate   string
	GeneratedAt  time.Time
}

// Renderer encodes ledgers into export documents.
type Renderer struct {
	Numbers NumberFormat
}

// NewRenderer returns a Renderer using nf for human-facing amounts.
func NewRenderer(nf NumberFormat) *Renderer {
	return &Renderer{Numbers: nf}
}

// RenderCSV writes a BOM-prefixed CSV with a fixed header followed by one row
// per transaction, numbered by position.
func (r *Renderer) RenderCSV(w io.Writer, txs []Transaction, currencyCode string) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, t := range txs {
		row := []string{
			strconv.Itoa(i + 1),
			t.Date,
			t.Type.Label(),
			t.Description,
			t.Amount.StringFixed(2),
			currencyCode,
			t.ProofDetails,
			t.CreatedAt.UTC().Format(CreatedAtLayout),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type wordRow struct {
	No          int
	Date        string
	Label       string
	Description string
	Class       string
	Amount      template.HTML
	Proof       string
	CreatedAt   string
}

type wordView struct {
	Owner        string
	ExportedAt   string
	Currency     Currency
	FilterDate   string
	TotalIncome  string
	TotalExpense string
	Balance      string
	Count        int
	Rows         []wordRow
	Year         int
}

// RenderWord writes the report as an HTML document meant to be saved with a
// .doc extension and opened by a word processor.
func (r *Renderer) RenderWord(w io.Writer, rep Report) error {
	v := wordView{
		Owner:        rep.Owner,
		ExportedAt:   rep.GeneratedAt.Format(exportTimeLayout),
		Currency:     rep.Currency,
		FilterDate:   strings.TrimSpace(rep.FilterDate),
		TotalIncome:  r.Numbers.Money(rep.Currency, rep.Stats.TotalIncome),
		TotalExpense: r.Numbers.Money(rep.Currency, rep.Stats.TotalExpense),
		Balance:      r.Numbers.Money(rep.Currency, rep.Stats.Balance),
		Count:        rep.Stats.TransactionCount,
		Rows:         make([]wordRow, 0, len(rep.Transactions)),
		Year:         rep.GeneratedAt.Year(),
	}
	for i, t := range rep.Transactions {
		sign := "-"
		if t.Type == Income {
			sign = "+"
		}
		v.Rows = append(v.Rows, wordRow{
			No:          i + 1,
			Date:        displayDate(t.Date),
			Label:       t.Type.Label(),
			Description: t.Description,
			Class:       string(t.Type),
			Amount:      signed(sign, r.Numbers.Money(rep.Currency, t.Amount)),
			Proof:       t.ProofDetails,
			CreatedAt:   t.CreatedAt.UTC().Format(CreatedAtLayout),
		})
	}
	if err := wordTemplate.Execute(w, v); err != nil {
		return fmt.Errorf("render word document: %w", err)
	}
	return nil
}

// signed pre-escapes the amount cell; html/template would otherwise encode
// the plus sign as an entity.
func signed(sign, money string) template.HTML {
	return template.HTML(template.HTMLEscapeString(sign + " " + money))
}

// displayDate shows a stored date as "02 January 2006", or unchanged when it
// does not parse.
func displayDate(s string) string {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return s
	}
	return t.Format(displayDateLayout)
}

// Filename builds "{prefix}_{owner}[_filter_{filterDate}]_{YYYYMMDD_HHMMSS}.{ext}".
func Filename(prefix, owner, filterDate string, at time.Time, ext string) string {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("_")
	b.WriteString(owner)
	if fd := strings.TrimSpace(filterDate); fd != "" {
		b.WriteString("_filter_")
		b.WriteString(fd)
	}
	b.WriteString("_")
	b.WriteString(at.Format("20060102_150405"))
	b.WriteString(".")
	b.WriteString(strings.TrimPrefix(ext, "."))
	return b.String()
}

var wordTemplate = template.Must(template.New("word").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Laporan Keuangan DH Finance</title>
<style>
body { font-family: Arial, sans-serif; margin: 40px; }
h1 { color: #1e3a8a; border-bottom: 2px solid #1d4ed8; padding-bottom: 10px; }
h2 { color: #1e3a8a; margin-top: 30px; }
table { border-collapse: collapse; width: 100%; margin-top: 20px; }
th { background-color: #dbeafe; color: #1e3a8a; padding: 12px; text-align: left; border: 1px solid #93c5fd; }
td { padding: 10px; border: 1px solid #93c5fd; }
.income { color: #10b981; }
.expense { color: #ef4444; }
.summary { background-color: #f8fafc; padding: 20px; border-radius: 10px; margin-top: 30px; }
.footer { margin-top: 40px; font-size: 12px; color: #64748b; text-align: center; }
.filter-info { background-color: #fef3c7; padding: 15px; border-radius: 8px; margin: 20px 0; }
</style>
</head>
<body>
<h1>Laporan Keuangan DH Finance</h1>
<p><strong>Pengguna:</strong> {{.Owner}}</p>
<p><strong>Tanggal Ekspor:</strong> {{.ExportedAt}}</p>
<p><strong>Mata Uang:</strong> {{.Currency.Code}} ({{.Currency.Symbol}})</p>
{{if .FilterDate}}<div class="filter-info">
<strong>Filter Tanggal:</strong> {{.FilterDate}}
</div>
{{end}}<div class="summary">
<p><strong>Total Uang Masuk:</strong> <span class="income">{{.TotalIncome}}</span></p>
<p><strong>Total Uang Keluar:</strong> <span class="expense">{{.TotalExpense}}</span></p>
<p><strong>Saldo Saat Ini:</strong> <strong>{{.Balance}}</strong></p>
<p><strong>Jumlah Transaksi:</strong> {{.Count}}</p>
</div>
<h2>Detail Transaksi</h2>
<table>
<thead>
<tr>
<th>No</th>
<th>Tanggal</th>
<th>Jenis</th>
<th>Keterangan</th>
<th>Jumlah</th>
<th>Bukti Transfer</th>
<th>Dibuat Pada</th>
</tr>
</thead>
<tbody>
{{range .Rows}}<tr>
<td>{{.No}}</td>
<td>{{.Date}}</td>
<td>{{.Label}}</td>
<td>{{.Description}}</td>
<td class="{{.Class}}">{{.Amount}}</td>
<td>{{.Proof}}</td>
<td>{{.CreatedAt}}</td>
</tr>
{{end}}</tbody>
</table>
<div class="footer">
<p>&copy; {{.Year}} DH Finance - Aplikasi Manajemen Keuangan Pribadi</p>
<p>Dokumen ini dibuat secara otomatis oleh sistem DH Finance</p>
</div>
</body>
</html>
`))
