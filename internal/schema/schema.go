// Package schema declares the bookmark database structure: every table, its
// ordered columns, and the semantic type stored in each column.
//
// Schema evolution is additive-only. Existing columns are never removed,
// retyped or renamed; new columns may be appended here and are patched into
// pre-existing database files on open.
package schema

import "fmt"

// ValueType is the semantic type of a column's values, independent of the
// SQL storage type.
type ValueType int

const (
	String ValueType = iota
	Int
	Float
	Dict
	Bytes
)

// String implements fmt.Stringer for error messages.
func (t ValueType) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Dict:
		return "dict"
	case Bytes:
		return "bytes"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Column pairs a column name with its SQL storage spec and semantic type.
type Column struct {
	Name string
	SQL  string
	Type ValueType
}

// Table is a named, ordered set of columns. The first column is always the
// id primary key.
type Table struct {
	Name    string
	Columns []Column
}

// Column returns the named column definition. Lookup is linear; tables are
// small and callers on hot paths hold the result.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the table's column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

var id = Column{Name: "id", SQL: "TEXT PRIMARY KEY COLLATE NOCASE", Type: String}

// AssetTable stores asset and file item properties.
var AssetTable = Table{
	Name: "AssetData",
	Columns: []Column{
		id,
		{Name: "description", SQL: "TEXT", Type: String},
		{Name: "notes", SQL: "TEXT", Type: Dict},
		{Name: "flags", SQL: "INT DEFAULT 0", Type: Int},
		{Name: "sg_id", SQL: "INT", Type: Int},
		{Name: "sg_name", SQL: "TEXT", Type: String},
		{Name: "sg_type", SQL: "TEXT", Type: String},
		{Name: "sg_task_id", SQL: "INT", Type: Int},
		{Name: "sg_task_name", SQL: "TEXT", Type: String},
		{Name: "cut_in", SQL: "INT", Type: Int},
		{Name: "cut_out", SQL: "INT", Type: Int},
		{Name: "cut_duration", SQL: "INT", Type: Int},
		{Name: "edit_in", SQL: "INT", Type: Int},
		{Name: "edit_out", SQL: "INT", Type: Int},
		{Name: "edit_duration", SQL: "INT", Type: Int},
		{Name: "asset_framerate", SQL: "REAL", Type: Float},
		{Name: "asset_width", SQL: "INT", Type: Int},
		{Name: "asset_height", SQL: "INT", Type: Int},
		{Name: "url1", SQL: "TEXT", Type: String},
		{Name: "url2", SQL: "TEXT", Type: String},
		{Name: "progress", SQL: "TEXT", Type: Dict},
	},
}

// BookmarkTable stores bookmark item properties: format defaults, external
// production-tracker credentials and the JSON config blobs consumed by the
// naming and publish tooling.
var BookmarkTable = Table{
	Name: "BookmarkData",
	Columns: []Column{
		id,
		{Name: "width", SQL: "INT", Type: Int},
		{Name: "height", SQL: "INT", Type: Int},
		{Name: "framerate", SQL: "REAL", Type: Float},
		{Name: "prefix", SQL: "TEXT", Type: String},
		{Name: "startframe", SQL: "INT", Type: Int},
		{Name: "duration", SQL: "INT", Type: Int},
		{Name: "sg_domain", SQL: "TEXT", Type: String},
		{Name: "sg_scriptname", SQL: "TEXT", Type: String},
		{Name: "sg_api_key", SQL: "TEXT", Type: String},
		{Name: "sg_id", SQL: "INT", Type: Int},
		{Name: "sg_name", SQL: "TEXT", Type: String},
		{Name: "sg_type", SQL: "TEXT", Type: String},
		{Name: "sg_episode_id", SQL: "INT", Type: Int},
		{Name: "sg_episode_name", SQL: "TEXT", Type: String},
		{Name: "url1", SQL: "TEXT", Type: String},
		{Name: "url2", SQL: "TEXT", Type: String},
		{Name: "config_file_format", SQL: "TEXT", Type: Dict},
		{Name: "config_scene_names", SQL: "TEXT", Type: Dict},
		{Name: "config_publish", SQL: "TEXT", Type: Dict},
		{Name: "config_tasks", SQL: "TEXT", Type: Dict},
		{Name: "config_asset_folders", SQL: "TEXT", Type: Dict},
		{Name: "config_burnin", SQL: "TEXT", Type: Dict},
		{Name: "applications", SQL: "TEXT", Type: Dict},
		{Name: "bookmark_display_token", SQL: "TEXT", Type: String},
		{Name: "asset_display_token", SQL: "TEXT", Type: String},
		{Name: "asset_link_presets", SQL: "TEXT", Type: Dict},
	},
}

// TemplateDataTable stores opaque binary template payloads.
var TemplateDataTable = Table{
	Name: "TemplateData",
	Columns: []Column{
		id,
		{Name: "data", SQL: "BLOB", Type: Bytes},
	},
}

// InfoTable stores general information about the database file itself,
// stamped once when the file is first created.
var InfoTable = Table{
	Name: "InfoData",
	Columns: []Column{
		id,
		{Name: "created", SQL: "REAL", Type: Float},
		{Name: "user", SQL: "TEXT", Type: String},
		{Name: "host", SQL: "TEXT", Type: String},
		{Name: "version", SQL: "TEXT", Type: String},
	},
}

// Tables returns every registered table in a fixed order.
func Tables() []Table {
	return []Table{AssetTable, BookmarkTable, TemplateDataTable, InfoTable}
}

// Lookup returns the registered table with the given name.
func Lookup(name string) (Table, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
