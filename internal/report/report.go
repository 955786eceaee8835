package report

import (
	"fmt"
	"io"
	"time"

	"food-ordering-kiosk/internal/entity"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

const dayLayout = "2006-01-02"

type SalesReport struct {
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"`
	Rows         []entity.SalesRow `json:"rows"`
	TotalOrders  int               `json:"total_orders"`
	TotalRevenue decimal.Decimal   `json:"total_revenue"`
}

func New(from, to time.Time, rows []entity.SalesRow) SalesReport {
	r := SalesReport{From: from, To: to, Rows: rows, TotalRevenue: decimal.Zero}
	if r.Rows == nil {
		r.Rows = []entity.SalesRow{}
	}
	for _, row := range rows {
		r.TotalOrders += row.Orders
		r.TotalRevenue = r.TotalRevenue.Add(row.Revenue)
	}
	return r
}

// Filename is the download name, e.g. sales-2026-03-01-2026-03-31.xlsx.
func (r SalesReport) Filename() string {
	return fmt.Sprintf("sales-%s-%s.xlsx", r.From.Format(dayLayout), r.To.Format(dayLayout))
}

// WriteXLSX writes the report as a single-sheet workbook with a totals row.
func WriteXLSX(w io.Writer, r SalesReport) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Sales")
	if err != nil {
		return err
	}

	header := sheet.AddRow()
	for _, h := range []string{"Day", "Orders", "Revenue"} {
		header.AddCell().SetString(h)
	}

	for _, row := range r.Rows {
		xr := sheet.AddRow()
		xr.AddCell().SetString(row.Day)
		xr.AddCell().SetInt(row.Orders)
		revenue, _ := row.Revenue.Float64()
		xr.AddCell().SetFloatWithFormat(revenue, "0.00")
	}

	total := sheet.AddRow()
	total.AddCell().SetString("Total")
	total.AddCell().SetInt(r.TotalOrders)
	revenue, _ := r.TotalRevenue.Float64()
	total.AddCell().SetFloatWithFormat(revenue, "0.00")

	return file.Write(w)
}
