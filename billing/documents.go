package billing

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/divan/num2words"
	"github.com/shopspring/decimal"
)

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Invoice {{.Code}}</title>
  <style>
    body { font-family: Arial, sans-serif; color: #333; }
    .container { max-width: 500px; margin: auto; padding: 20px; border: 1px solid #eee; }
    .header { text-align: center; }
    .amount { font-size: 32px; margin: 20px 0; }
    .row { display: flex; justify-content: space-between; margin: 4px 0; }
    .footer { margin-top: 30px; font-size: 12px; color: #666; text-align: center; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h3>Invoice {{.Code}}</h3>
      <div class="amount">{{.Amount}}</div>
      <div>{{.Status}}</div>
      <div>{{.Date}}</div>
    </div>
    <div class="row"><span>From</span><span>{{.SellerName}}</span></div>
    <div class="row"><span>Billed to</span><span>{{.BuyerName}}</span></div>
    {{range .Items}}<div class="row"><span>{{.Name}} x{{.Qty}}</span><span>{{.Price}}</span></div>
    {{end}}{{if .Bank}}<div class="row"><span>Pay to</span><span>{{.Bank}}</span></div>{{end}}
    <div class="footer">Thank you for your business.</div>
  </div>
</body>
</html>`))

var receiptTmpl = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Transaction Receipt</title>
  <style>
    body { font-family: Arial, sans-serif; color: #333; }
    .container { max-width: 500px; margin: auto; padding: 20px; border: 1px solid #eee; }
    .header { text-align: center; }
    .amount { font-size: 32px; color: #008751; margin: 20px 0 4px; }
    .words { font-size: 13px; color: #666; margin-bottom: 16px; }
    .section-title { font-weight: bold; margin-top: 20px; }
    .row { display: flex; justify-content: space-between; margin: 4px 0; }
    .footer { margin-top: 30px; font-size: 12px; color: #666; text-align: center; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h3>Transaction Receipt</h3>
      <div class="amount">{{.Amount}}</div>
      <div class="words">{{.AmountWords}}</div>
      <div>Successful</div>
      <div>{{.Date}}</div>
    </div>
    <div class="section-title">Recipient Details</div>
    <div class="row"><span>{{.SellerName}}</span></div>
    <div class="section-title">Sender Details</div>
    <div class="row"><span>{{.BuyerName}}</span></div>
    <div class="row"><span>Transaction No.</span><span>{{.ReceiptNumber}}</span></div>
    {{if .InvoiceCode}}<div class="row"><span>Invoice</span><span>{{.InvoiceCode}}</span></div>{{end}}
    <div class="footer">Thank you for your business.</div>
  </div>
</body>
</html>`))

const documentDateLayout = "02 Jan 2006, 15:04 MST"

type invoiceDoc struct {
	Code, Amount, Status, Date, SellerName, BuyerName, Bank string
	Items                                                   []invoiceDocItem
}

type invoiceDocItem struct {
	Name  string
	Qty   int
	Price string
}

// RenderInvoiceHTML renders the buyer-facing invoice page.
func RenderInvoiceHTML(inv *Invoice, org *Organization, bank *BankAccount) (string, error) {
	doc := invoiceDoc{
		Code:       inv.Code,
		Amount:     FormatMoney(inv.Currency, inv.Total),
		Status:     string(inv.Status),
		Date:       inv.CreatedAt.UTC().Format(documentDateLayout),
		SellerName: sellerName(org),
		BuyerName:  inv.ContactPhone,
	}
	if doc.BuyerName == "" {
		doc.BuyerName = DefaultBuyerName
	}
	if bank != nil {
		doc.Bank = bank.BankName + " • " + bank.AccountName + " • " + bank.AccountNumber
	}
	for _, it := range inv.Items {
		doc.Items = append(doc.Items, invoiceDocItem{Name: it.Name, Qty: it.Qty, Price: FormatMoney(inv.Currency, it.LineTotal())})
	}
	return render(invoiceTmpl, doc)
}

// RenderReceiptHTML renders the receipt page.
func RenderReceiptHTML(rv *ReceiptView) (string, error) {
	currency := rv.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return render(receiptTmpl, struct {
		Amount, AmountWords, Date, SellerName, BuyerName, ReceiptNumber, InvoiceCode string
	}{
		Amount:        FormatMoney(currency, rv.Amount),
		AmountWords:   AmountInWords(currency, rv.Amount),
		Date:          rv.CreatedAt.UTC().Format(documentDateLayout),
		SellerName:    rv.SellerName,
		BuyerName:     rv.BuyerName,
		ReceiptNumber: rv.ReceiptNumber,
		InvoiceCode:   rv.InvoiceCode,
	})
}

// currencyUnits names the major and minor unit of the currencies buyers
// pay in. Others fall back to the ISO code.
var currencyUnits = map[string][2]string{
	"NGN": {"naira", "kobo"},
	"GHS": {"cedi", "pesewas"},
	"KES": {"shillings", "cents"},
	"USD": {"dollars", "cents"},
}

// AmountInWords spells an amount the way receipts print it, e.g.
// "one thousand five hundred naira and fifty kobo".
func AmountInWords(currency string, amount decimal.Decimal) string {
	amount = amount.Abs().Round(2)
	major := amount.IntPart()
	minor := amount.Sub(decimal.NewFromInt(major)).Shift(2).IntPart()

	units, ok := currencyUnits[strings.ToUpper(currency)]
	if !ok {
		units = [2]string{strings.ToUpper(currency), "cents"}
	}
	words := fmt.Sprintf("%s %s", num2words.Convert(int(major)), units[0])
	if minor > 0 {
		words += fmt.Sprintf(" and %s %s", num2words.Convert(int(minor)), units[1])
	}
	return words
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
