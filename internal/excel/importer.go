// Package excel bulk-loads knowledge points from a spreadsheet or CSV
// file into the local store as guest points.
package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/lingpoint/internal/localstore"
	"github.com/example/lingpoint/pkg/models"
)

// ImportConfig defines the import configuration.
type ImportConfig struct {
	FilePath          string // Path to the Excel or CSV file
	CategoryColumn    string // Column with the category
	SubcategoryColumn string // Column with the subcategory
	PhraseColumn      string // Column with the corrected phrase
	ExplanationColumn string // Column with the explanation
	ContextColumn     string // Column with the user's original sentence
	MistakeColumn     string // Column with the erroneous fragment
	SummaryColumn     string // Column with the short summary label
	MasteryColumn     string // Column with an optional starting mastery level
	SheetName         string // Name of the sheet to import
	StartRow          int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration.
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		CategoryColumn:    "A",
		SubcategoryColumn: "B",
		PhraseColumn:      "C",
		ExplanationColumn: "D",
		ContextColumn:     "E",
		MistakeColumn:     "F",
		SummaryColumn:     "G",
		MasteryColumn:     "H",
		SheetName:         "Sheet1",
		StartRow:          2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation.
type ImportResult struct {
	TotalProcessed int
	Created        int
	Skipped        int
	Errors         []string
}

// ImportPoints imports knowledge points from an Excel or CSV file into
// the given store. Every imported record is a guest point.
func ImportPoints(store *localstore.Store, config ImportConfig) (*ImportResult, error) {
	ext := strings.ToLower(filepath.Ext(config.FilePath))
	if ext == ".csv" {
		return importFromCSV(store, config)
	}
	return importFromExcel(store, config)
}

func importFromExcel(store *localstore.Store, config ImportConfig) (*ImportResult, error) {
	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(config.SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %v", err)
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		if i < config.StartRow-1 {
			continue
		}
		result.TotalProcessed++

		if err := processRow(store, row, config, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
		}
	}
	return result, nil
}

func importFromCSV(store *localstore.Store, config ImportConfig) (*ImportResult, error) {
	f, err := os.Open(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	result := &ImportResult{Errors: make([]string, 0)}
	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %v", err)
		}

		rowNum++
		if rowNum < config.StartRow {
			continue
		}
		result.TotalProcessed++

		if err := processRow(store, row, config, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
		}
	}
	return result, nil
}

func processRow(store *localstore.Store, row []string, config ImportConfig, result *ImportResult) error {
	phrase := strings.TrimSpace(cell(row, config.PhraseColumn))
	if phrase == "" {
		result.Skipped++
		return nil
	}

	category := strings.TrimSpace(cell(row, config.CategoryColumn))
	if category == "" {
		category = "General"
	}

	point := &models.KnowledgePoint{
		Category:                 category,
		Subcategory:              strings.TrimSpace(cell(row, config.SubcategoryColumn)),
		CorrectPhrase:            phrase,
		Explanation:              strings.TrimSpace(cell(row, config.ExplanationColumn)),
		UserContextSentence:      strings.TrimSpace(cell(row, config.ContextColumn)),
		IncorrectPhraseInContext: strings.TrimSpace(cell(row, config.MistakeColumn)),
		KeyPointSummary:          strings.TrimSpace(cell(row, config.SummaryColumn)),
		Origin:                   models.OriginLocal,
	}

	if raw := strings.TrimSpace(cell(row, config.MasteryColumn)); raw != "" {
		level, err := strconv.ParseFloat(raw, 64)
		if err != nil || level < 0 || level > 5 {
			return fmt.Errorf("invalid mastery level %q", raw)
		}
		point.MasteryLevel = level
	}

	if err := store.Save(point); err != nil {
		return err
	}
	result.Created++
	return nil
}

// cell reads the value of a lettered column from a row slice.
func cell(row []string, column string) string {
	if column == "" {
		return ""
	}
	n, err := excelize.ColumnNameToNumber(column)
	if err != nil || n-1 >= len(row) {
		return ""
	}
	return row[n-1]
}
