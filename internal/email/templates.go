package email

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"
)

// OrderConfirmation is the content of an order confirmation email
type OrderConfirmation struct {
	OrderID      string
	CustomerName string
	ProductName  string
	Quantity     int
	TotalPrice   float64
	OrderDate    time.Time
}

// StatusUpdate is the content of a status change email
type StatusUpdate struct {
	OrderID        string
	CustomerName   string
	ProductName    string
	PreviousStatus string
	NewStatus      string
	UpdatedDate    time.Time
}

const pageHeader = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>
	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
`

const pageFooter = `
		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. Please contact support if you have any questions.
		</p>
	</div>
</body>
</html>`

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(c OrderConfirmation) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(pageHeader, "Thank you for your order"))
	b.WriteString(fmt.Sprintf(`		<p style="margin-top: 0;">Hello %s, we have received your order.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Product</th>
					<th style="padding: 12px; text-align: center; font-weight: 600;">Quantity</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Date</th>
				</tr>
			</thead>
			<tbody>
				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				</tr>
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #667eea; margin-left: 10px;">$%s</span>
		</div>
`,
		html.EscapeString(c.CustomerName),
		html.EscapeString(c.OrderID),
		html.EscapeString(c.ProductName),
		c.Quantity,
		formatDate(c.OrderDate),
		formatMoney(c.TotalPrice),
	))
	b.WriteString(pageFooter)
	return b.String()
}

// BuildStatusUpdateBody builds the HTML body for a status change email
func BuildStatusUpdateBody(u StatusUpdate) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(pageHeader, "Your order has been updated"))
	b.WriteString(fmt.Sprintf(`		<p style="margin-top: 0;">Hello %s, the status of your order for <strong>%s</strong> changed.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<p style="font-size: 18px;">%s &rarr; <strong style="color: #667eea;">%s</strong></p>
		<p style="font-size: 14px; color: #666;">Updated %s</p>
`,
		html.EscapeString(u.CustomerName),
		html.EscapeString(u.ProductName),
		html.EscapeString(u.OrderID),
		html.EscapeString(u.PreviousStatus),
		html.EscapeString(u.NewStatus),
		formatDate(u.UpdatedDate),
	))
	b.WriteString(pageFooter)
	return b.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

// formatMoney formats an amount with comma separators and two decimals
func formatMoney(amount float64) string {
	cents := int64(math.Round(amount * 100))
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s.%02d", sign, formatNumber(cents/100), cents%100)
}

// formatNumber formats a number with comma separators
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
