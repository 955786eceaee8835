package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OrderNumber is the customer-facing number: the last 8 characters of the
// order id, uppercased.
func OrderNumber(id string) string {
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return strings.ToUpper(id)
}

type Line struct {
	Name     string
	Size     string
	Notes    string
	Quantity int
	Total    decimal.Decimal
}

type Receipt struct {
	Number    string
	OrderType entity.OrderType
	Customer  string
	Lines     []Line
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
}

// Build derives a receipt from an order. Tax is recomputed from the item
// totals and added on top, the same way cart summaries do it.
func Build(order entity.Order, taxRate decimal.Decimal) Receipt {
	r := Receipt{
		Number:    OrderNumber(order.ID),
		OrderType: order.OrderType,
		Customer:  order.CustomerName,
		CreatedAt: order.CreatedAt,
	}
	for _, item := range order.Items {
		line := Line{
			Name:     item.FoodItemID,
			Notes:    item.Notes,
			Quantity: item.Quantity,
			Total:    item.TotalPrice,
		}
		if item.FoodItem != nil && item.FoodItem.Name != "" {
			line.Name = item.FoodItem.Name
		}
		if item.Size != nil {
			line.Size = item.Size.Name
		}
		r.Lines = append(r.Lines, line)
	}

	sum := pricing.SummarizeOrder(order.Items, taxRate)
	r.Subtotal = sum.Subtotal
	r.Tax = sum.Tax
	r.Total = sum.Total
	return r
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"when":  func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}).Parse(`ORDER #{{.Number}}
{{if not .CreatedAt.IsZero}}{{when .CreatedAt}}
{{end}}{{if .OrderType}}{{.OrderType}}
{{end}}{{if .Customer}}Customer: {{.Customer}}
{{end}}----------------------------------------
{{range .Lines}}{{printf "%3d" .Quantity}} x {{.Name}}{{if .Size}} ({{.Size}}){{end}}{{printf "%10s" (money .Total)}}
{{if .Notes}}      note: {{.Notes}}
{{end}}{{end}}----------------------------------------
Subtotal {{printf "%31s" (money .Subtotal)}}
Tax      {{printf "%31s" (money .Tax)}}
TOTAL    {{printf "%31s" (money .Total)}}
`))

// WriteText renders the receipt as plain text for a receipt printer.
func (r Receipt) WriteText(w io.Writer) error {
	return receiptTemplate.Execute(w, r)
}

// Printer hands a rendered receipt to something that can print it.
type Printer interface {
	Print(ctx context.Context, r Receipt) error
}

// CommandPrinter pipes the text receipt into an OS print command such as "lp".
type CommandPrinter struct {
	command string
	args    []string
	logger  zerolog.Logger
}

// NewCommandPrinter splits command on spaces, e.g. "lp -d kitchen".
func NewCommandPrinter(command string, logger zerolog.Logger) *CommandPrinter {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = []string{"lp"}
	}
	return &CommandPrinter{
		command: fields[0],
		args:    fields[1:],
		logger:  logger.With().Str("component", "printer").Logger(),
	}
}

func (p *CommandPrinter) Print(ctx context.Context, r Receipt) error {
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Stdin = &buf
	out, err := cmd.CombinedOutput()
	if err != nil {
		p.logger.Error().Err(err).Msgf("Error printing receipt %s: %s", r.Number, strings.TrimSpace(string(out)))
		return fmt.Errorf("print receipt %s: %w", r.Number, err)
	}
	p.logger.Info().Msgf("Receipt %s sent to %s", r.Number, p.command)
	return nil
}
