// Package sheet turns raw stock-sheet spreadsheets into ledger rows.
//
// Decode parses the byte stream into typed rows; Expand multiplies each row
// out to unit-quantity ledger entries. Both are pure with respect to
// storage: all persistence happens downstream in the ledger package.
package sheet

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Parse failure taxonomy. These are input errors: they are surfaced to the
// sender as a rejection reason and are never retried.
var (
	// ErrMalformed means the payload could not be parsed as a spreadsheet.
	ErrMalformed = eris.New("sheet: payload is not a readable spreadsheet")

	// ErrEmptyDocument means the spreadsheet parsed but carries no data rows.
	ErrEmptyDocument = eris.New("sheet: document has no rows")
)

// SchemaError reports required columns absent from the header row.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("sheet: required columns missing: %s", strings.Join(e.Missing, ", "))
}

// Row is one decoded stock-sheet line.
type Row struct {
	Factory       string
	Warehouse     string
	Material      string
	InventoryCode string
	BatchCode     string
	Name          string
	Quantity      string // raw closing-balance cell, resolved by Expand
}

// Canonical column identifiers. The sheets arrive with Russian SAP-style
// headers; English synonyms are accepted for hand-built test fixtures.
const (
	colFactory   = "factory"
	colWarehouse = "warehouse"
	colMaterial  = "material"
	colInventory = "inventory code"
	colBatch     = "batch"
	colQuantity  = "quantity"
	colName      = "name"
)

// headerAliases maps normalized header-cell text to a canonical column.
var headerAliases = map[string]string{
	"завод":                   colFactory,
	"factory":                 colFactory,
	"склад":                   colWarehouse,
	"warehouse":               colWarehouse,
	"материал":                colMaterial,
	"material":                colMaterial,
	"инвентарный номер":       colInventory,
	"инв. номер":              colInventory,
	"inventory code":          colInventory,
	"партия":                  colBatch,
	"batch":                   colBatch,
	"конечный остаток":        colQuantity,
	"closing balance":         colQuantity,
	"quantity":                colQuantity,
	"краткий текст материала": colName,
	"название":                colName,
	"name":                    colName,
}

// requiredColumns must all be present in the header row. The descriptive
// name column is optional.
var requiredColumns = []string{colFactory, colWarehouse, colMaterial, colInventory, colBatch, colQuantity}

// nativeHeaders maps canonical columns back to the native header names used
// in SchemaError messages, so rejection reasons match what the sender sees
// in their spreadsheet.
var nativeHeaders = map[string]string{
	colFactory:   "Завод",
	colWarehouse: "Склад",
	colMaterial:  "Материал",
	colInventory: "Инвентарный номер",
	colBatch:     "Партия",
	colQuantity:  "Конечный остаток",
}

// Decode parses an XLSX payload into ordered rows. The first sheet is used;
// its first row is the header. Decode has no side effects.
func Decode(data []byte) ([]Row, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(ErrMalformed, err.Error())
	}
	if len(f.Sheets) == 0 {
		return nil, ErrEmptyDocument
	}

	s := f.Sheets[0]
	if len(s.Rows) == 0 || len(s.Rows[0].Cells) == 0 {
		return nil, ErrEmptyDocument
	}

	cols, err := mapHeader(s.Rows[0])
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(s.Rows)-1)
	for _, xr := range s.Rows[1:] {
		cells := make([]string, len(xr.Cells))
		for i, c := range xr.Cells {
			cells[i] = strings.TrimSpace(c.String())
		}
		rows = append(rows, Row{
			Factory:       cell(cells, cols[colFactory]),
			Warehouse:     cell(cells, cols[colWarehouse]),
			Material:      cell(cells, cols[colMaterial]),
			InventoryCode: cell(cells, cols[colInventory]),
			BatchCode:     cell(cells, cols[colBatch]),
			Name:          cell(cells, cols[colName]),
			Quantity:      cell(cells, cols[colQuantity]),
		})
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDocument
	}
	return rows, nil
}

// mapHeader resolves header cells to canonical column indexes and checks
// that every required column is present.
func mapHeader(header *xlsx.Row) (map[string]int, error) {
	cols := make(map[string]int, len(requiredColumns)+1)
	for i, c := range header.Cells {
		key := strings.ToLower(strings.TrimSpace(c.String()))
		if canon, ok := headerAliases[key]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}

	var missing []string
	for _, req := range requiredColumns {
		if _, ok := cols[req]; !ok {
			missing = append(missing, nativeHeaders[req])
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	if _, ok := cols[colName]; !ok {
		cols[colName] = -1
	}
	return cols, nil
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}
