package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// LoaderType selects the ingestion strategy for a source file.
type LoaderType string

const (
	LoaderTypeFlat  LoaderType = "Flat"  // Delimited text, streamed byte for byte
	LoaderTypeExcel LoaderType = "Excel" // Workbook, one sub-table per sheet
	LoaderTypeMDB   LoaderType = "MDB"   // Access database, one sub-table per table
	LoaderTypeDBF   LoaderType = "DBF"   // dBase file
)

// MultiTable reports whether files of this type carry named sub-tables.
func (l LoaderType) MultiTable() bool {
	return l == LoaderTypeExcel || l == LoaderTypeMDB
}

// LoaderTypeForFile derives the loader type from a file name's extension.
func LoaderTypeForFile(fileName string) (LoaderType, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt":
		return LoaderTypeFlat, nil
	case ".xls", ".xlsx":
		return LoaderTypeExcel, nil
	case ".mdb", ".accdb":
		return LoaderTypeMDB, nil
	case ".dbf":
		return LoaderTypeDBF, nil
	default:
		return "", fmt.Errorf("unsupported file type %q", fileName)
	}
}

// CollectType records how a source file was obtained.
type CollectType string

const (
	CollectTypeDownload CollectType = "Download"
	CollectTypeUpload   CollectType = "Upload"
	CollectTypeEmail    CollectType = "Email"
	CollectTypeFOIA     CollectType = "FOIA"
	CollectTypeOther    CollectType = "Other"
)

// ParseCollectType validates a raw collect type value.
func ParseCollectType(value string) (CollectType, error) {
	switch CollectType(value) {
	case CollectTypeDownload, CollectTypeUpload, CollectTypeEmail, CollectTypeFOIA, CollectTypeOther:
		return CollectType(value), nil
	default:
		return "", fmt.Errorf("unknown collect type %q", value)
	}
}

// SourceTable maps one file, or one sub-table inside a file, to a
// destination database table for a pipeline run.
type SourceTable struct {
	StOID       int64       `gorm:"column:st_oid;primaryKey;autoIncrement" json:"stOid"`
	RunID       int64       `gorm:"column:run_id;not null;uniqueIndex:source_tables_run_table;uniqueIndex:source_tables_run_file" json:"runId"`
	Name        string      `gorm:"type:varchar(500);column:table_name;not null;uniqueIndex:source_tables_run_table" json:"tableName"`
	FileID      string      `gorm:"type:varchar(10);column:file_id;not null;uniqueIndex:source_tables_run_file" json:"fileId"`
	FileName    string      `gorm:"type:varchar(500);column:file_name;not null" json:"fileName"`
	LoaderType  LoaderType  `gorm:"type:loader_type;column:loader_type;not null" json:"loaderType"`
	SubTable    *string     `gorm:"type:varchar(500);column:sub_table" json:"subTable,omitempty"`
	Delimiter   *string     `gorm:"type:varchar(1);column:delimiter" json:"delimiter,omitempty"`
	Qualified   bool        `gorm:"column:qualified;not null;default:false" json:"qualified"`
	Encoding    string      `gorm:"type:varchar(25);column:encoding;not null;default:utf-8" json:"encoding"`
	CollectType CollectType `gorm:"type:collect_type;column:collect_type;not null;default:Download" json:"collectType"`
	Analyze     bool        `gorm:"column:analyze;not null;default:true" json:"analyze"`
	Load        bool        `gorm:"column:load;not null;default:true" json:"load"`
	RecordCount *int64      `gorm:"column:record_count" json:"recordCount,omitempty"`
	URL         *string     `gorm:"type:text;column:url" json:"url,omitempty"`
	Comments    *string     `gorm:"type:text;column:comments" json:"comments,omitempty"`

	Columns []SourceTableColumn `gorm:"foreignKey:StOID;references:StOID" json:"columns,omitempty"`
}

func (s *SourceTable) TableName() string {
	return "source_tables"
}

// SourceTableColumn is one analyzed column of a source table, produced by
// the analyze task and consumed by the load task to build DDL.
type SourceTableColumn struct {
	StcOID      int64  `gorm:"column:stc_oid;primaryKey;autoIncrement" json:"stcOid"`
	StOID       int64  `gorm:"column:st_oid;not null;uniqueIndex:source_table_columns_st_name" json:"stOid"`
	Name        string `gorm:"type:varchar(60);column:name;not null;uniqueIndex:source_table_columns_st_name" json:"name"`
	Type        string `gorm:"type:varchar(60);column:type;not null" json:"type"`
	MaxLength   int    `gorm:"column:max_length;not null" json:"maxLength"`
	MinLength   int    `gorm:"column:min_length;not null" json:"minLength"`
	Label       string `gorm:"type:varchar(500);column:label" json:"label"`
	ColumnIndex int    `gorm:"column:column_index;not null" json:"columnIndex"`
}

func (s *SourceTableColumn) TableName() string {
	return "source_table_columns"
}
