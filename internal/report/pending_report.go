// Package report renders approval data as spreadsheets
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const pendingSheet = "Pending approvals"

var pendingColumns = []struct {
	title string
	width float64
}{
	{"Request ID", 38},
	{"Step", 6},
	{"Employee", 24},
	{"Category", 18},
	{"Description", 36},
	{"Amount", 14},
	{"Currency", 10},
	{"Company amount", 16},
	{"Expense date", 14},
	{"Issued at", 20},
}

// PendingReport writes a user's review queue as an xlsx workbook
type PendingReport struct {
	logger *zap.Logger
}

// NewPendingReport creates a new pending approvals report
func NewPendingReport(logger *zap.Logger) *PendingReport {
	return &PendingReport{logger: logger}
}

// Write renders items in the order given
func (r *PendingReport) Write(w io.Writer, items []*entity.PendingApproval) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), pendingSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range pendingColumns {
		name, _ := excelize.ColumnNumberToName(i + 1)
		r.setCell(f, cellName(i+1, 1), col.title)
		if err := f.SetColWidth(pendingSheet, name, name, col.width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", name, err)
		}
	}
	lastHeader := cellName(len(pendingColumns), 1)
	if err := f.SetCellStyle(pendingSheet, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, item := range items {
		r.writeRow(f, i+2, item)
	}

	if len(items) > 0 {
		if err := f.AutoFilter(pendingSheet, "A1:"+cellName(len(pendingColumns), len(items)+1), nil); err != nil {
			r.logger.Warn("Failed to add auto filter", zap.Error(err))
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	r.logger.Debug("Pending approvals report written", zap.Int("rows", len(items)))
	return nil
}

func (r *PendingReport) writeRow(f *excelize.File, row int, item *entity.PendingApproval) {
	values := []interface{}{
		item.Request.ID,
		item.StepNumber,
		"",
		item.CategoryName,
		"",
		"",
		"",
		"",
		"",
		"",
	}
	if item.Employee != nil {
		values[2] = item.Employee.FullName()
	}
	if e := item.Expense; e != nil {
		values[4] = e.Description
		values[5], _ = e.Amount.Round(2).Float64()
		values[6] = e.Currency
		if e.AmountInCompanyCurrency.Valid {
			values[7], _ = e.AmountInCompanyCurrency.Decimal.Round(2).Float64()
		}
		values[8] = e.ExpenseDate.Format("2006-01-02")
	}
	if item.Request.IssuedAt != nil {
		values[9] = item.Request.IssuedAt.UTC().Format("2006-01-02 15:04:05")
	}

	for col, v := range values {
		r.setCell(f, cellName(col+1, row), v)
	}
}

// setCell sets a cell value, logging rather than failing on bad input
func (r *PendingReport) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(pendingSheet, cell, value); err != nil {
		r.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
