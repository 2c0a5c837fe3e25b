package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"courtbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Schedule"

type CourtLister interface {
	ListCourtsByVenue(ctx context.Context, venueID int64) ([]*models.Court, error)
}

type SlotStater interface {
	SlotStates(ctx context.Context, courtID int64, date time.Time) ([]models.SlotState, error)
}

// ScheduleExporter renders the day schedule of a venue as an xlsx sheet:
// one row per start time, one column per court.
type ScheduleExporter struct {
	courts CourtLister
	states SlotStater
	path   string
	logger *zerolog.Logger
}

func NewScheduleExporter(courts CourtLister, states SlotStater, path string, logger *zerolog.Logger) *ScheduleExporter {
	return &ScheduleExporter{courts: courts, states: states, path: path, logger: logger}
}

// Export writes the workbook into the export directory and returns its path.
func (e *ScheduleExporter) Export(ctx context.Context, venueID int64, date time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	var buf bytes.Buffer
	if err := e.Write(ctx, venueID, date, &buf); err != nil {
		return "", err
	}

	filePath := filepath.Join(e.path, FileName(venueID, date))
	if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}

func FileName(venueID int64, date time.Time) string {
	return fmt.Sprintf("schedule_%d_%s.xlsx", venueID, date.Format(models.DateLayout))
}

// Write renders the workbook to w.
func (e *ScheduleExporter) Write(ctx context.Context, venueID int64, date time.Time, w io.Writer) error {
	courts, err := e.courts.ListCourtsByVenue(ctx, venueID)
	if err != nil {
		return fmt.Errorf("error getting courts: %w", err)
	}

	byCourt := make(map[int64]map[string]models.SlotState, len(courts))
	startSet := make(map[string]string)
	for _, c := range courts {
		states, err := e.states.SlotStates(ctx, c.ID, date)
		if err != nil {
			return fmt.Errorf("error getting slots of court %d: %w", c.ID, err)
		}
		byCourt[c.ID] = make(map[string]models.SlotState, len(states))
		for _, st := range states {
			byCourt[c.ID][st.Template.StartTime] = st
			startSet[st.Template.StartTime] = st.Template.EndTime
		}
	}
	starts := make([]string, 0, len(startSet))
	for s := range startSet {
		starts = append(starts, s)
	}
	sort.Strings(starts)

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Venue %d, %s", venueID, date.Format(models.DateLayout)))
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	lastCol, _ := excelize.ColumnNumberToName(len(courts) + 1)
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, c := range courts {
		cell, _ := excelize.CoordinatesToCellName(i+2, 2)
		_ = f.SetCellValue(sheetName, cell, c.Name)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	styles, err := statusStyles(f)
	if err != nil {
		return fmt.Errorf("error creating styles: %w", err)
	}

	for r, start := range starts {
		row := r + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheetName, cell, start+"-"+startSet[start])
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)

		for i, c := range courts {
			cell, _ := excelize.CoordinatesToCellName(i+2, row)
			st, ok := byCourt[c.ID][start]
			if !ok {
				continue
			}
			label, style := cellContent(st)
			_ = f.SetCellValue(sheetName, cell, label)
			_ = f.SetCellStyle(sheetName, cell, cell, styles[style])
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 14)
	if len(courts) > 0 {
		_ = f.SetColWidth(sheetName, "B", lastCol, 20)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// cellContent returns the label and style key for a slot.
func cellContent(st models.SlotState) (string, string) {
	if st.ActivityID != 0 {
		return fmt.Sprintf("Activity #%d", st.ActivityID), "activity"
	}
	switch st.Status {
	case models.SlotLockedIn:
		return fmt.Sprintf("Booked (user %d)", st.OperatorID), "booked"
	case models.SlotUnavailable:
		return "Blocked", "blocked"
	case models.SlotExpired:
		return "Expired", "blocked"
	default:
		return "Free", "free"
	}
}

func statusStyles(f *excelize.File) (map[string]int, error) {
	colors := map[string]string{
		"free":     "#E2EFDA",
		"booked":   "#FCE4D6",
		"blocked":  "#D9D9D9",
		"activity": "#FFF2CC",
	}
	styles := make(map[string]int, len(colors))
	for key, color := range colors {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", WrapText: true},
		})
		if err != nil {
			return nil, err
		}
		styles[key] = id
	}
	return styles, nil
}
