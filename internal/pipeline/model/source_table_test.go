package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoaderTypeForFile(t *testing.T) {
	tests := []struct {
		fileName string
		expected LoaderType
		wantErr  bool
	}{
		{"prices.csv", LoaderTypeFlat, false},
		{"prices.TXT", LoaderTypeFlat, false},
		{"book.xlsx", LoaderTypeExcel, false},
		{"legacy.xls", LoaderTypeExcel, false},
		{"claims.mdb", LoaderTypeMDB, false},
		{"claims.accdb", LoaderTypeMDB, false},
		{"parcels.dbf", LoaderTypeDBF, false},
		{"report.pdf", "", true},
		{"noextension", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			loaderType, err := LoaderTypeForFile(tt.fileName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, loaderType)
		})
	}
}

func TestMultiTable(t *testing.T) {
	assert.True(t, LoaderTypeExcel.MultiTable())
	assert.True(t, LoaderTypeMDB.MultiTable())
	assert.False(t, LoaderTypeFlat.MultiTable())
	assert.False(t, LoaderTypeDBF.MultiTable())
}

func TestParseCollectType(t *testing.T) {
	collectType, err := ParseCollectType("Download")
	assert.NoError(t, err)
	assert.Equal(t, CollectTypeDownload, collectType)

	_, err = ParseCollectType("Scraped")
	assert.Error(t, err)
}

func TestStageSlotColumn(t *testing.T) {
	tests := []struct {
		code     string
		expected string
	}{
		{WorkflowCodeCollection, "collection_user_id"},
		{WorkflowCodeLoad, "load_user_id"},
		{WorkflowCodeCheck, "check_user_id"},
		{WorkflowCodeQA, "qa_user_id"},
	}
	for _, tt := range tests {
		column, err := StageSlotColumn(tt.code)
		assert.NoError(t, err)
		assert.Equal(t, tt.expected, column)
	}

	_, err := StageSlotColumn("archive")
	assert.Error(t, err)
}
