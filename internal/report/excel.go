package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"cabinbook/internal/model"
)

// ExcelWriter writes rows into sheets of a workbook.
type ExcelWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []any) error
	Save(w io.Writer) error
	SaveToFile(path string) error
	Close() error
}

// ExcelizeWriter implements ExcelWriter using excelize.
type ExcelizeWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func NewExcelizeWriter() *ExcelizeWriter {
	return &ExcelizeWriter{file: excelize.NewFile()}
}

func (w *ExcelizeWriter) AddSheet(name string) error {
	// Excel caps sheet names at 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *ExcelizeWriter) WriteHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeCells(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil && len(columns) > 0 {
		first, _ := excelize.CoordinatesToCellName(1, w.currentRow)
		last, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.currentSheet, first, last, style)
		_ = w.file.SetPanes(w.currentSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}
	w.currentRow++
	return nil
}

func (w *ExcelizeWriter) WriteRow(row []any) error {
	if err := w.writeCells(row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

func (w *ExcelizeWriter) writeCells(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	return w.file.SetSheetRow(w.currentSheet, cell, &row)
}

func (w *ExcelizeWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *ExcelizeWriter) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

func (w *ExcelizeWriter) Close() error {
	return w.file.Close()
}

var (
	reservationColumns = []string{
		"ID", "Requester", "Cabin", "Date", "Interval", "Status", "Priority", "Category", "Purpose",
		"Approved by", "Rejected by", "Rejection reason", "Cancelled by", "Created", "Updated", "Version",
	}
	actionColumns = []string{"ID", "Reservation", "Action", "Actor", "Old cabin", "New cabin", "Reason", "At"}
)

// ExportBook writes the reservations matching filter and their action log
// into w as two sheets.
func (r *Reports) ExportBook(ctx context.Context, w ExcelWriter, filter model.ReservationFilter) error {
	rows, err := r.src.ListReservations(ctx, filter)
	if err != nil {
		return err
	}

	if err := w.AddSheet("Reservations"); err != nil {
		return err
	}
	if err := w.WriteHeader(reservationColumns); err != nil {
		return err
	}
	for _, res := range rows {
		if err := w.WriteRow(reservationRow(res)); err != nil {
			return fmt.Errorf("write reservation %s: %w", res.ID, err)
		}
	}

	if err := w.AddSheet("Actions"); err != nil {
		return err
	}
	if err := w.WriteHeader(actionColumns); err != nil {
		return err
	}
	for _, res := range rows {
		actions, err := r.src.ListActions(ctx, res.ID)
		if err != nil {
			return err
		}
		for _, a := range actions {
			if err := w.WriteRow(actionRow(a)); err != nil {
				return fmt.Errorf("write action %d: %w", a.ID, err)
			}
		}
	}
	return nil
}

func reservationRow(r *model.Reservation) []any {
	return []any{
		r.ID,
		r.RequesterID,
		r.CabinID,
		r.Date.Format(model.DateLayout),
		r.Interval.String(),
		string(r.Status),
		r.Priority.String(),
		string(r.Category),
		r.Purpose,
		optionalID(r.ApprovedBy),
		optionalID(r.RejectedBy),
		r.RejectionReason,
		optionalID(r.CancelledBy),
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
		r.Version,
	}
}

func actionRow(a *model.Action) []any {
	return []any{
		a.ID,
		a.ReservationID,
		string(a.Kind),
		a.ActorID,
		optionalCabin(a.OldCabinID),
		optionalCabin(a.NewCabinID),
		a.Reason,
		a.At.UTC().Format(time.RFC3339),
	}
}

func optionalID(p *int64) any {
	if p == nil {
		return ""
	}
	return *p
}

func optionalCabin(id int64) any {
	if id == 0 {
		return ""
	}
	return id
}

// TableSource exposes raw tables for audit snapshots.
type TableSource interface {
	TableNames(ctx context.Context) ([]string, error)
	TableData(ctx context.Context, table string) (columns []string, rows [][]any, err error)
}

// ExportTables copies every table of src into its own sheet.
func ExportTables(ctx context.Context, src TableSource, w ExcelWriter) error {
	tables, err := src.TableNames(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, table := range tables {
		columns, rows, err := src.TableData(ctx, table)
		if err != nil {
			return fmt.Errorf("read table %s: %w", table, err)
		}
		if err := w.AddSheet(table); err != nil {
			return err
		}
		if err := w.WriteHeader(columns); err != nil {
			return err
		}
		for _, row := range rows {
			if err := w.WriteRow(row); err != nil {
				return fmt.Errorf("write %s row: %w", table, err)
			}
		}
	}
	return nil
}
