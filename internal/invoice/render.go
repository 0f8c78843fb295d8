package invoice

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/shop"
)

const htmlDocument = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Invoice {{ .Invoice.Number }}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { width: 100%; border-collapse: collapse; margin-top: 1em; }
th, td { padding: 6px 8px; border-bottom: 1px solid #ddd; text-align: left; }
td.amount, th.amount { text-align: right; }
.status { text-transform: uppercase; font-weight: bold; }
</style>
</head>
<body>
<h1>{{ .Shop }}</h1>
{{- if .Address }}<p>{{ .Address }}</p>{{ end }}
{{- if .Contact }}<p>{{ .Contact }}</p>{{ end }}
<h2>Invoice {{ .Invoice.Number }} <span class="status">{{ .Invoice.Status }}</span></h2>
<p>Billed to: {{ .Invoice.CustomerName }}{{ if .Invoice.CustomerPhone }}, {{ .Invoice.CustomerPhone }}{{ end }}{{ if .Invoice.CustomerEmail }}, {{ .Invoice.CustomerEmail }}{{ end }}</p>
{{- if .Issued }}<p>Issued: {{ .Issued }}</p>{{ end }}
{{- if .Due }}<p>Due: {{ .Due }}</p>{{ end }}
<table>
<thead><tr><th>Item</th><th class="amount">Qty</th><th class="amount">Unit price</th><th class="amount">Amount</th></tr></thead>
<tbody>
{{- range .Lines }}
<tr><td>{{ .Name }}{{ if .SKU }} ({{ .SKU }}){{ end }}</td><td class="amount">{{ .Quantity }}</td><td class="amount">{{ .UnitPrice }}</td><td class="amount">{{ .Total }}</td></tr>
{{- end }}
</tbody>
<tfoot>
{{- range .Totals }}
<tr><th colspan="3" class="amount">{{ .Label }}</th><td class="amount">{{ .Amount }}</td></tr>
{{- end }}
</tfoot>
</table>
{{- if .Invoice.Notes }}<p>{{ .Invoice.Notes }}</p>{{ end }}
</body>
</html>
`

const textDocument = `{{ .Shop }}
{{ if .Address }}{{ .Address }}
{{ end }}{{ if .Contact }}{{ .Contact }}
{{ end }}
INVOICE {{ .Invoice.Number }} ({{ .Invoice.Status }})
Billed to: {{ .Invoice.CustomerName }}
{{ if .Issued }}Issued: {{ .Issued }}
{{ end }}{{ if .Due }}Due: {{ .Due }}
{{ end }}
{{ range .Lines }}{{ .Quantity }} x {{ .Name }} @ {{ .UnitPrice }} = {{ .Total }}
{{ end }}
{{ range .Totals }}{{ printf "%-10s" .Label }} {{ .Amount }}
{{ end }}{{ if .Invoice.Notes }}
{{ .Invoice.Notes }}
{{ end }}`

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.New("invoice.html").Parse(htmlDocument))
	textTmpl = texttemplate.Must(texttemplate.New("invoice.txt").Parse(textDocument))
)

type docLine struct {
	Name, SKU        string
	Quantity         int
	UnitPrice, Total string
}

type docTotal struct {
	Label, Amount string
}

type docView struct {
	Shop, Address, Contact string
	Invoice                Invoice
	Issued, Due            string
	Lines                  []docLine
	Totals                 []docTotal
}

func newView(sh shop.Shop, inv Invoice) docView {
	f := func(d decimal.Decimal) string { return money.Format(d, inv.Currency) }
	loc := location(sh.Timezone)
	day := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.In(loc).Format("2 Jan 2006")
	}
	v := docView{
		Shop:    sh.DisplayName(),
		Address: sh.Address,
		Contact: strings.Trim(strings.Join([]string{sh.ContactPhone, sh.ContactEmail}, " "), " "),
		Invoice: inv,
		Issued:  day(inv.IssuedAt),
		Due:     day(inv.DueAt),
	}
	for _, l := range inv.Lines {
		v.Lines = append(v.Lines, docLine{
			Name: l.Name, SKU: l.SKU, Quantity: l.Quantity,
			UnitPrice: f(l.UnitPrice), Total: f(l.LineTotal),
		})
	}
	v.Totals = append(v.Totals, docTotal{"Subtotal", f(inv.Subtotal)})
	if inv.Discount.IsPositive() {
		v.Totals = append(v.Totals, docTotal{"Discount", "-" + f(inv.Discount)})
	}
	if inv.Shipping.IsPositive() {
		v.Totals = append(v.Totals, docTotal{"Shipping", f(inv.Shipping)})
	}
	if inv.Tax.IsPositive() {
		v.Totals = append(v.Totals, docTotal{"Tax", f(inv.Tax)})
	}
	v.Totals = append(v.Totals, docTotal{"Total", f(inv.Total)})
	return v
}

func render(sh shop.Shop, inv Invoice, format string) (Document, error) {
	var buf bytes.Buffer
	v := newView(sh, inv)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatHTML:
		if err := htmlTmpl.Execute(&buf, v); err != nil {
			return Document{}, errors.Wrap("invoice.render", err)
		}
		return Document{ContentType: "text/html; charset=utf-8", Body: buf.Bytes()}, nil
	case FormatText:
		if err := textTmpl.Execute(&buf, v); err != nil {
			return Document{}, errors.Wrap("invoice.render", err)
		}
		return Document{ContentType: "text/plain; charset=utf-8", Body: buf.Bytes()}, nil
	default:
		return Document{}, errors.Invalidf("unknown document format %q", format)
	}
}
