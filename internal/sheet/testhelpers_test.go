package sheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// defaultHeader is a typical stock-sheet header row.
var defaultHeader = []string{"Завод", "Склад", "Материал", "Инвентарный номер", "Партия", "Краткий текст материала", "Конечный остаток"}

// buildXLSX renders a one-sheet workbook with the given header and rows.
func buildXLSX(t *testing.T, header []string, rows [][]string) []byte {
	t.Helper()

	f := xlsx.NewFile()
	sh, err := f.AddSheet("Лист1")
	require.NoError(t, err)

	if header != nil {
		hr := sh.AddRow()
		for _, h := range header {
			hr.AddCell().Value = h
		}
	}
	for _, r := range rows {
		xr := sh.AddRow()
		for _, c := range r {
			xr.AddCell().Value = c
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

// dataRow builds a row matching defaultHeader order.
func dataRow(factory, warehouse, material, inv, batch, name, qty string) []string {
	return []string{factory, warehouse, material, inv, batch, name, qty}
}
