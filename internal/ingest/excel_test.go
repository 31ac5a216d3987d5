package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeTestWorkbook(t *testing.T) string {
	t.Helper()

	f := excelize.NewFile()
	sheet := "Orders"
	index, err := f.NewSheet(sheet)
	require.NoError(t, err)
	f.SetActiveSheet(index)

	require.NoError(t, f.SetCellValue(sheet, "A1", "Order #"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "Customer"))
	require.NoError(t, f.SetCellValue(sheet, "C1", "Amount"))
	require.NoError(t, f.SetCellValue(sheet, "D1", "Shipped"))
	require.NoError(t, f.SetCellValue(sheet, "E1", "Date"))

	require.NoError(t, f.SetCellValue(sheet, "A2", 42.0))
	require.NoError(t, f.SetCellValue(sheet, "B2", "Smith"))
	require.NoError(t, f.SetCellValue(sheet, "C2", 19.5))
	require.NoError(t, f.SetCellBool(sheet, "D2", true))
	require.NoError(t, f.SetCellValue(sheet, "E2", time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, f.SetCellValue(sheet, "A3", 7.0))
	require.NoError(t, f.SetCellValue(sheet, "B3", "Jones-Watanabe"))
	require.NoError(t, f.SetCellValue(sheet, "C3", 200.0))
	require.NoError(t, f.SetCellBool(sheet, "D3", false))
	require.NoError(t, f.SetCellValue(sheet, "E3", time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)))

	path := filepath.Join(t.TempDir(), "orders.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestAnalyzeExcel(t *testing.T) {
	path := writeTestWorkbook(t)

	var results []AnalyzeResult
	err := Analyze(context.Background(), path,
		[]AnalyzerSpec{{StOID: 9, TableName: "ORDERS", SubTable: "Orders"}},
		func(r AnalyzeResult) error {
			results = append(results, r)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, int64(2), result.RecordCount)
	require.Len(t, result.Columns, 5)

	assert.Equal(t, "ORDER_NUM", result.Columns[0].Name)
	assert.Equal(t, "Order #", result.Columns[0].Label)
	assert.Equal(t, "CUSTOMER", result.Columns[1].Name)
	assert.Equal(t, "AMOUNT", result.Columns[2].Name)
	assert.Equal(t, "SHIPPED", result.Columns[3].Name)
	assert.Equal(t, "DATE", result.Columns[4].Name)

	// Integral numbers render without a fraction: "42" and "7".
	assert.Equal(t, 1, result.Columns[0].MinLength)
	assert.Equal(t, 2, result.Columns[0].MaxLength)
	// "19.5" and "200".
	assert.Equal(t, 3, result.Columns[2].MinLength)
	assert.Equal(t, 4, result.Columns[2].MaxLength)
	// "TRUE" and "FALSE".
	assert.Equal(t, 4, result.Columns[3].MinLength)
	assert.Equal(t, 5, result.Columns[3].MaxLength)
	// ISO dates are always ten characters.
	assert.Equal(t, 10, result.Columns[4].MinLength)
	assert.Equal(t, 10, result.Columns[4].MaxLength)
}

func TestAnalyzeExcelMissingSheet(t *testing.T) {
	path := writeTestWorkbook(t)

	err := Analyze(context.Background(), path,
		[]AnalyzerSpec{{TableName: "NOPE", SubTable: "DoesNotExist"}},
		func(AnalyzeResult) error { return nil })
	assert.Error(t, err)
}

func TestRenderFloat(t *testing.T) {
	assert.Equal(t, "42", renderFloat(42.0))
	assert.Equal(t, "0", renderFloat(0))
	assert.Equal(t, "-3", renderFloat(-3.0))
	assert.Equal(t, "19.5", renderFloat(19.5))
}

func TestIsDateNumFmt(t *testing.T) {
	for _, id := range []int{14, 22, 27, 36, 45, 47, 50, 58} {
		assert.True(t, isDateNumFmt(id), "id %d", id)
	}
	for _, id := range []int{0, 1, 13, 23, 26, 37, 44, 48, 49, 59} {
		assert.False(t, isDateNumFmt(id), "id %d", id)
	}
}
