// Transactional email templates: order confirmation, order cancelled,
// and the low-stock alert.
package email

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// OrderInfo carries everything the order email templates can reference.
type OrderInfo struct {
	OrderNumber  string
	CustomerName string
	OrderDate    time.Time

	Items    []LineItem
	Subtotal string
	Discount string
	Tax      string
	Shipping string
	Total    string

	CancellationReason string
	RefundLine         string
	ReturnRequested    bool
}

type LineItem struct {
	Name      string
	SKU       string
	Quantity  int
	UnitPrice string
	Total     string
}

// LowStockInfo feeds the internal low-stock alert template.
type LowStockInfo struct {
	ProductName string
	SKU         string
	Quantity    int
	Threshold   int
}

type emailTemplate struct {
	Subject string
	Text    string
	HTML    string
}

var orderTemplates = map[string]emailTemplate{
	"order_confirmation": {
		Subject: "Order Confirmed - #{{.OrderNumber}}",
		Text:    orderConfirmationText,
		HTML:    orderConfirmationHTML,
	},
	"order_cancelled": {
		Subject: "Order Cancelled - #{{.OrderNumber}}",
		Text:    orderCancelledText,
		HTML:    orderCancelledHTML,
	},
}

// Renderer renders the built-in templates into ready-to-send emails.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("January 2, 2006")
		},
	}

	root := template.New("email").Funcs(funcMap)
	for name, tmpl := range orderTemplates {
		for _, part := range []struct{ suffix, body string }{
			{"subject", tmpl.Subject},
			{"text", tmpl.Text},
			{"html", tmpl.HTML},
		} {
			if _, err := root.New(name + "." + part.suffix).Parse(part.body); err != nil {
				return nil, fmt.Errorf("failed to parse template %s.%s: %w", name, part.suffix, err)
			}
		}
	}
	if _, err := root.New("low_stock.subject").Parse(lowStockSubject); err != nil {
		return nil, err
	}
	if _, err := root.New("low_stock.text").Parse(lowStockText); err != nil {
		return nil, err
	}

	return &Renderer{templates: root}, nil
}

// RenderOrder renders a named order template for a recipient.
func (r *Renderer) RenderOrder(name, to string, info OrderInfo) (*Email, error) {
	subject, err := r.render(name+".subject", info)
	if err != nil {
		return nil, err
	}
	text, err := r.render(name+".text", info)
	if err != nil {
		return nil, err
	}
	html, err := r.render(name+".html", info)
	if err != nil {
		return nil, err
	}
	return &Email{To: to, Subject: subject, Text: text, HTML: html}, nil
}

// RenderLowStock renders the internal low-stock alert.
func (r *Renderer) RenderLowStock(to string, info LowStockInfo) (*Email, error) {
	subject, err := r.render("low_stock.subject", info)
	if err != nil {
		return nil, err
	}
	text, err := r.render("low_stock.text", info)
	if err != nil {
		return nil, err
	}
	return &Email{To: to, Subject: subject, Text: text}, nil
}

func (r *Renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

const orderConfirmationText = `Hi {{.CustomerName}},

Thanks for your order #{{.OrderNumber}} placed on {{formatDate .OrderDate}}.

{{range .Items}}- {{.Name}} ({{.SKU}}) x{{.Quantity}}: {{.Total}}
{{end}}
Subtotal: {{.Subtotal}}
{{if ne .Discount "0"}}Discount: -{{.Discount}}
{{end}}Tax: {{.Tax}}
Shipping: {{.Shipping}}
Total: {{.Total}}

We'll let you know when it ships.
`

const orderConfirmationHTML = `<h2>Thanks for your order, {{.CustomerName}}!</h2>
<p>Order <strong>#{{.OrderNumber}}</strong> placed on {{formatDate .OrderDate}}.</p>
<table>
{{range .Items}}<tr><td>{{.Name}} ({{.SKU}})</td><td>x{{.Quantity}}</td><td>{{.Total}}</td></tr>
{{end}}</table>
<p>Subtotal: {{.Subtotal}}<br>
{{if ne .Discount "0"}}Discount: -{{.Discount}}<br>{{end}}
Tax: {{.Tax}}<br>
Shipping: {{.Shipping}}<br>
<strong>Total: {{.Total}}</strong></p>
<p>We'll let you know when it ships.</p>
`

const orderCancelledText = `Hi {{.CustomerName}},

Your order #{{.OrderNumber}} has been cancelled.
{{if .CancellationReason}}Reason: {{.CancellationReason}}
{{end}}{{if .ReturnRequested}}A return pickup has been scheduled for the items already shipped.
{{end}}{{if .RefundLine}}{{.RefundLine}}
{{end}}
If you have any questions, just reply to this email.
`

const orderCancelledHTML = `<h2>Order #{{.OrderNumber}} cancelled</h2>
<p>Hi {{.CustomerName}}, your order has been cancelled.</p>
{{if .CancellationReason}}<p>Reason: {{.CancellationReason}}</p>{{end}}
{{if .ReturnRequested}}<p>A return pickup has been scheduled for the items already shipped.</p>{{end}}
{{if .RefundLine}}<p>{{.RefundLine}}</p>{{end}}
<p>If you have any questions, just reply to this email.</p>
`

const lowStockSubject = `Low stock: {{.ProductName}} ({{.SKU}})`

const lowStockText = `{{.ProductName}} ({{.SKU}}) is down to {{.Quantity}} units (threshold {{.Threshold}}).

Restock soon to avoid overselling.
`
