package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

const (
	searchURLPrefix = "スクレイピングURL: "
	headerRow       = 3
	firstDataRow    = 4
	defaultSheet    = "Sheet1"
	newListingFill  = "FFFF00"
)

// ExcelRegistry keeps every run as one sheet of a single workbook. Row 1
// holds the search URL, row 3 the column headers and data starts at row 4.
// Listings new since the previous run are filled yellow.
type ExcelRegistry struct {
	mu   sync.Mutex
	path string
	log  *logger.Logger
}

// NewExcelRegistry creates a registry backed by the workbook at path. The
// file is created on the first commit.
func NewExcelRegistry(path string) *ExcelRegistry {
	return &ExcelRegistry{
		path: path,
		log:  logger.ForRegistry("excel"),
	}
}

// Get implements Registry
func (r *ExcelRegistry) Get(ctx context.Context, id models.RunID) (*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := excelize.OpenFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrRunNotFound
		}
		return nil, scrapeerrors.NewRegistry("excel", "failed to open workbook "+r.path, err)
	}
	defer f.Close()

	sheet := id.Key()
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, ErrRunNotFound
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, scrapeerrors.NewRegistry("excel", "failed to read sheet "+sheet, err)
	}

	run := &models.Run{ID: id, Listings: []models.Listing{}}
	if len(rows) > 0 && len(rows[0]) > 0 {
		run.SearchURL = strings.TrimPrefix(rows[0][0], searchURLPrefix)
	}

	start := firstDataRow - 1
	for i, row := range rows {
		if len(row) > 0 && row[0] == models.Columns[0] {
			start = i + 1
			break
		}
	}

	for i := start; i < len(rows); i++ {
		if len(rows[i]) == 0 {
			continue
		}
		listing := models.ListingFromRow(rows[i])
		listing.Index = len(run.Listings) + 1

		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, scrapeerrors.NewRegistry("excel", "invalid cell", err)
		}
		style, err := f.GetCellStyle(sheet, cell)
		if err != nil {
			return nil, scrapeerrors.NewRegistry("excel", "failed to read style of "+cell, err)
		}
		listing.IsNew = style != 0

		run.Listings = append(run.Listings, listing)
	}
	return run, nil
}

// Put implements Registry
func (r *ExcelRegistry) Put(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.openOrCreate()
	if err != nil {
		return err
	}
	defer f.Close()

	sheet := run.ID.Key()
	if idx, _ := f.GetSheetIndex(sheet); idx >= 0 {
		return scrapeerrors.NewRegistry("excel", "sheet "+sheet+" already exists", ErrRunExists)
	}

	stored := cloneRun(run)
	stored.AssignIndexes()

	if err := r.writeSheet(f, sheet, stored); err != nil {
		return scrapeerrors.NewRegistry("excel", "failed to write sheet "+sheet, err)
	}
	if err := r.save(f); err != nil {
		return scrapeerrors.NewRegistry("excel", "failed to save workbook "+r.path, err)
	}

	run.AssignIndexes()
	r.log.Debug().Str("sheet", sheet).Int("listings", len(run.Listings)).Msg("Run committed")
	return nil
}

// Location implements Registry
func (r *ExcelRegistry) Location(id models.RunID) string {
	return r.path + "#" + id.Key()
}

// Close implements Registry
func (r *ExcelRegistry) Close() error {
	return nil
}

func (r *ExcelRegistry) openOrCreate() (*excelize.File, error) {
	f, err := excelize.OpenFile(r.path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, scrapeerrors.NewRegistry("excel", "failed to open workbook "+r.path, err)
	}
	return excelize.NewFile(), nil
}

func (r *ExcelRegistry) writeSheet(f *excelize.File, sheet string, run *models.Run) error {
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}

	// A fresh workbook still carries its default sheet
	if def, _ := f.GetSheetIndex(defaultSheet); def >= 0 && len(f.GetSheetList()) > 1 {
		if rows, _ := f.GetRows(defaultSheet); len(rows) == 0 {
			if err := f.DeleteSheet(defaultSheet); err != nil {
				return err
			}
			idx, _ = f.GetSheetIndex(sheet)
		}
	}

	if err := f.SetCellValue(sheet, "A1", searchURLPrefix+run.SearchURL); err != nil {
		return err
	}

	for i, h := range models.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	newStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{newListingFill}},
	})
	if err != nil {
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(len(models.Columns))
	if err != nil {
		return err
	}

	for _, listing := range run.Listings {
		row := firstDataRow + listing.Index - 1
		values := listing.Row()
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}

		start, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, start, &cells); err != nil {
			return err
		}
		if listing.IsNew {
			if err := f.SetCellStyle(sheet, start, fmt.Sprintf("%s%d", lastCol, row), newStyle); err != nil {
				return err
			}
		}
	}

	f.SetActiveSheet(idx)
	return nil
}

// save writes the workbook to a temporary file next to the target and renames
// it into place, so a failed write never leaves a truncated workbook.
func (r *ExcelRegistry) save(f *excelize.File) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".runs-*.xlsx")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, r.path)
}
