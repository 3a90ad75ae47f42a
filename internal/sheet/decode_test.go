package sheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("definitely not a spreadsheet"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecode_EmptyWorkbook(t *testing.T) {
	data := buildXLSX(t, nil, nil)
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDecode_HeaderOnly(t *testing.T) {
	data := buildXLSX(t, defaultHeader, nil)
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDecode_MissingBatchColumn(t *testing.T) {
	header := []string{"Завод", "Склад", "Материал", "Инвентарный номер", "Конечный остаток"}
	data := buildXLSX(t, header, [][]string{{"4030", "s010", "M1", "A1", "1"}})

	_, err := Decode(data)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"Партия"}, schemaErr.Missing)
}

func TestDecode_MissingSeveralColumns(t *testing.T) {
	data := buildXLSX(t, []string{"Завод", "Партия"}, [][]string{{"4030", "B1"}})

	_, err := Decode(data)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.ElementsMatch(t, []string{"Склад", "Материал", "Инвентарный номер", "Конечный остаток"}, schemaErr.Missing)
}

func TestDecode_Rows(t *testing.T) {
	data := buildXLSX(t, defaultHeader, [][]string{
		dataRow("4030", "s010", "M100", "A1", "B1", "Насос центробежный", "2"),
		dataRow("4030", "s010", "M200", "A2", "B2", "Клапан", "1"),
	})

	rows, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "4030", rows[0].Factory)
	assert.Equal(t, "s010", rows[0].Warehouse)
	assert.Equal(t, "M100", rows[0].Material)
	assert.Equal(t, "A1", rows[0].InventoryCode)
	assert.Equal(t, "B1", rows[0].BatchCode)
	assert.Equal(t, "Насос центробежный", rows[0].Name)
	assert.Equal(t, "2", rows[0].Quantity)

	assert.Equal(t, "A2", rows[1].InventoryCode)
}

func TestDecode_EnglishHeaders(t *testing.T) {
	header := []string{"Factory", "Warehouse", "Material", "Inventory Code", "Batch", "Name", "Quantity"}
	data := buildXLSX(t, header, [][]string{{"1000", "w1", "M1", "A1", "B1", "Pump", "3"}})

	rows, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0].InventoryCode)
	assert.Equal(t, "3", rows[0].Quantity)
}

func TestDecode_ShortRowsPadBlank(t *testing.T) {
	data := buildXLSX(t, defaultHeader, [][]string{
		{"4030", "s010", "M100", "A1"}, // trailing cells absent
	})

	rows, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0].InventoryCode)
	assert.Empty(t, rows[0].BatchCode)
	assert.Empty(t, rows[0].Quantity)
}
