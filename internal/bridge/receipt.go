package bridge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"agropos/backend/internal/domain"
)

// RenderReceipt produces the fixed receipt layout in three forms: a plain
// text preview, printable HTML for the browser print-dialog fallback, and an
// ESC/POS payload for hardware printers behind the native bridge.
func RenderReceipt(tx domain.Transaction, settings domain.SystemSettings) domain.ReceiptResponse {
	storeName := settings.CompanyName
	if storeName == "" {
		storeName = "AgroPOS"
	}

	lines := []string{
		storeName,
		"========================",
		"TX: " + tx.ID,
		"Branch: " + tx.BranchName,
		"Date: " + tx.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, item := range tx.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.ItemName, item.Qty))
		lines = append(lines, fmt.Sprintf("  %d", item.UnitPriceCents*int64(item.Qty)))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Subtotal : %d", tx.SubtotalCents),
	)
	if tx.DiscountPercent > 0 {
		lines = append(lines, fmt.Sprintf("Discount : %.1f%%", tx.DiscountPercent))
	}
	lines = append(lines,
		fmt.Sprintf("Total    : %d", tx.TotalCents),
		"========================",
		"Cashier: "+tx.Cashier,
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		TransactionID: tx.ID,
		PreviewText:   strings.Join(lines, "\n"),
		HTML:          renderReceiptHTML(tx, storeName),
		EscposBase64:  base64.StdEncoding.EncodeToString(escpos),
		FileName:      fmt.Sprintf("receipt-%s.txt", tx.ID),
	}
}

// receiptHTMLTmpl renders the print-dialog fallback. User-controlled fields
// are auto-escaped by html/template.
var receiptHTMLTmpl = template.Must(template.New("receipt").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Receipt {{.TxID}}</title>
  <style>
    body { font-family: monospace; width: 280px; margin: 16px auto; }
    table { width: 100%; border-collapse: collapse; }
    td { padding: 2px 0; font-size: 12px; }
    .right { text-align: right; }
    hr { border: none; border-top: 1px dashed #000; }
  </style>
</head>
<body>
  <p><strong>{{.StoreName}}</strong><br/>{{.Branch}}<br/>{{.Date}}<br/>TX {{.TxID}}</p>
  <hr/>
  <table>
    {{range .Lines}}<tr><td>{{.Name}} x{{.Qty}}</td><td class="right">{{.Extended}}</td></tr>{{end}}
  </table>
  <hr/>
  <table>
    <tr><td>Subtotal</td><td class="right">{{.Subtotal}}</td></tr>
    {{if .HasDiscount}}<tr><td>Discount</td><td class="right">{{.Discount}}%</td></tr>{{end}}
    <tr><td><strong>Total</strong></td><td class="right"><strong>{{.Total}}</strong></td></tr>
  </table>
  <hr/>
  <p>Cashier: {{.Cashier}}</p>
</body>
</html>
`))

type receiptLineView struct {
	Name     string
	Qty      int
	Extended int64
}

type receiptView struct {
	StoreName   string
	Branch      string
	Date        string
	TxID        string
	Lines       []receiptLineView
	Subtotal    int64
	HasDiscount bool
	Discount    float64
	Total       int64
	Cashier     string
}

func renderReceiptHTML(tx domain.Transaction, storeName string) string {
	view := receiptView{
		StoreName:   storeName,
		Branch:      tx.BranchName,
		Date:        tx.CreatedAt.Format("2006-01-02 15:04:05"),
		TxID:        tx.ID,
		Subtotal:    tx.SubtotalCents,
		HasDiscount: tx.DiscountPercent > 0,
		Discount:    tx.DiscountPercent,
		Total:       tx.TotalCents,
		Cashier:     tx.Cashier,
	}
	for _, item := range tx.Items {
		view.Lines = append(view.Lines, receiptLineView{
			Name:     item.ItemName,
			Qty:      item.Qty,
			Extended: item.UnitPriceCents * int64(item.Qty),
		})
	}

	var buf bytes.Buffer
	if err := receiptHTMLTmpl.Execute(&buf, view); err != nil {
		// Fallback: never leak internals into the printable page.
		return "<!doctype html><html><body><p>Receipt rendering error.</p></body></html>"
	}
	return buf.String()
}
