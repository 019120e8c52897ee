// Package export renders bookings and queue state into Excel files for the
// studio's front desk.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"studiosync/internal/database"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const bookingsSheet = "Bookings"

type Exporter struct {
	db     *database.DB
	path   string
	logger *zerolog.Logger
}

func NewExporter(db *database.DB, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{db: db, path: path, logger: logger}
}

// WriteBookingsReport writes every active booking to an xlsx file and
// returns its path. Soft-deleted bookings are excluded.
func (e *Exporter) WriteBookingsReport(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	bookings, err := e.db.GetActiveBookings(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Client", "Status", "Date", "Start", "End", "Private", "Folder", "Notes"}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(bookingsSheet, cell, header)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, headerStyle)
	}

	for i, booking := range bookings {
		row := i + 2
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("A%d", row), booking.ID)
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("B%d", row), booking.ClientName)
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("C%d", row), booking.Status)
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("D%d", row), booking.ShootDate)
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("E%d", row), derefTime(booking.StartTime))
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("F%d", row), derefTime(booking.EndTime))
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("G%d", row), boolToYesNo(booking.IsPrivate))
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("H%d", row), booking.FolderPath)
		_ = f.SetCellValue(bookingsSheet, fmt.Sprintf("I%d", row), booking.Notes)
	}

	_ = f.SetColWidth(bookingsSheet, "A", "A", 38)
	_ = f.SetColWidth(bookingsSheet, "B", "B", 25)
	_ = f.SetColWidth(bookingsSheet, "C", "D", 18)
	_ = f.SetColWidth(bookingsSheet, "E", "G", 10)
	_ = f.SetColWidth(bookingsSheet, "H", "I", 30)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("bookings report created")
	return filePath, nil
}

func derefTime(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolToYesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
