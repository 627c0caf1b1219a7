package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Inspections"

var exportColumns = []struct {
	title string
	width float64
}{
	{"Reference", 22},
	{"Date", 12},
	{"Period", 12},
	{"Start", 8},
	{"End", 8},
	{"Status", 13},
	{"Customer ID", 12},
	{"Car ID", 10},
	{"Inspector ID", 12},
	{"Overall condition", 18},
	{"Customer notes", 40},
	{"Inspector notes", 40},
}

// CollectInspections pages through the listing until every match is loaded.
func CollectInspections(ctx context.Context, svc domain.InspectionService, filter models.InspectionFilter) ([]*models.Inspection, error) {
	filter.Page = 1
	filter.Limit = models.MaxPageLimit

	var out []*models.Inspection
	for {
		page, err := svc.ListInspections(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Inspections...)
		if !page.HasNextPage {
			return out, nil
		}
		filter.Page++
	}
}

// BuildInspectionWorkbook lays the inspections out one per row. The caller closes the file.
func BuildInspectionWorkbook(items []*models.Inspection, start, end *time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(exportSheet, "A1", "Inspections "+periodLabel(start, end))
	lastCol, _ := excelize.ColumnNumberToName(len(exportColumns))
	_ = f.MergeCell(exportSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(exportSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, col := range exportColumns {
		name, _ := excelize.ColumnNumberToName(i + 1)
		cell := name + "2"
		_ = f.SetCellValue(exportSheet, cell, col.title)
		_ = f.SetCellStyle(exportSheet, cell, cell, headerStyle)
		_ = f.SetColWidth(exportSheet, name, name, col.width)
	}

	for r, inspection := range items {
		row := r + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(exportSheet, cell, exportRow(inspection)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
	}

	return f, nil
}

func exportRow(i *models.Inspection) *[]any {
	inspector := ""
	if i.InspectorID != nil {
		inspector = strconv.FormatInt(*i.InspectorID, 10)
	}
	condition := ""
	if i.Report != nil {
		condition = string(i.Report.OverallCondition)
	}
	row := []any{
		i.Ref(),
		i.InspectionDate.Format(models.DateLayout),
		string(i.TimeSlot.Period),
		i.TimeSlot.StartTime,
		i.TimeSlot.EndTime,
		string(i.Status),
		i.CustomerID,
		i.CarID,
		inspector,
		condition,
		i.CustomerNotes,
		i.InspectorNotes,
	}
	return &row
}

func periodLabel(start, end *time.Time) string {
	switch {
	case start != nil && end != nil:
		return start.Format(models.DateLayout) + " - " + end.Format(models.DateLayout)
	case start != nil:
		return "from " + start.Format(models.DateLayout)
	case end != nil:
		return "until " + end.Format(models.DateLayout)
	}
	return "(all dates)"
}
