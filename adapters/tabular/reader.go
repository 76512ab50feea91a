package tabular

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"goowas/domain/dataset"
)

// Reader loads a study table from an xlsx or csv file. Cells that are empty
// or "NA" become missing values; a column is numeric when every present cell
// parses as a float, otherwise it is categorical.
type Reader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewReader creates a reader, deciding csv vs xlsx from the file extension.
func NewReader(filePath string) *Reader {
	fileType := "xlsx"
	if strings.ToLower(filepath.Ext(filePath)) == ".csv" {
		fileType = "csv"
	}
	return &Reader{filePath: filePath, fileType: fileType}
}

// Read loads the file into a table.
func (r *Reader) Read() (*dataset.Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readExcel()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have a header row and at least one data row", strings.ToUpper(r.fileType))
	}
	return buildTable(rows)
}

func (r *Reader) readExcel() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	// Always use Sheet1
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	return rows, nil
}

func (r *Reader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // xlsx exports often pad/truncate trailing cells
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// buildTable converts raw string rows into typed columns.
func buildTable(rows [][]string) (*dataset.Table, error) {
	header := rows[0]
	names := make([]string, len(header))
	for j, h := range header {
		names[j] = strings.TrimSpace(h)
		if names[j] == "" {
			return nil, fmt.Errorf("column %d has an empty header", j+1)
		}
	}

	nrows := len(rows) - 1
	cells := make([][]string, len(names))
	for j := range cells {
		cells[j] = make([]string, nrows)
		for i := 0; i < nrows; i++ {
			row := rows[i+1]
			if j < len(row) {
				cells[j][i] = strings.TrimSpace(row[j])
			}
		}
	}

	tbl := dataset.NewTable()
	for j, name := range names {
		if nums, ok := asNumeric(cells[j]); ok {
			if err := tbl.AddNumeric(name, nums); err != nil {
				return nil, err
			}
			continue
		}
		labels := make([]string, nrows)
		for i, s := range cells[j] {
			if !isMissingCell(s) {
				labels[i] = s
			}
		}
		if err := tbl.AddCategorical(name, labels); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func isMissingCell(s string) bool {
	return s == "" || strings.EqualFold(s, "NA")
}

// asNumeric parses a string column as floats. It succeeds only when every
// present cell parses and at least one cell is present.
func asNumeric(col []string) ([]float64, bool) {
	nums := make([]float64, len(col))
	present := 0
	for i, s := range col {
		if isMissingCell(s) {
			nums[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		nums[i] = v
		present++
	}
	return nums, present > 0
}
