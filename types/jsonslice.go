package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONStringSlice is stored as a JSON array, implements driver.Valuer and sql.Scanner
type JSONStringSlice []string

// Value return json value, implement driver.Valuer interface
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]string(s))
	return string(ba), err
}

// Scan scan value into the slice, implements sql.Scanner interface
func (s *JSONStringSlice) Scan(val interface{}) error {
	ba, err := scanBytes(val)
	if err != nil {
		return err
	}
	t := make([]string, 0)
	err = json.Unmarshal(ba, &t)
	*s = JSONStringSlice(t)
	return err
}

// GormDataType gorm common data type
func (JSONStringSlice) GormDataType() string {
	return "jsonstringslice"
}

// GormDBDataType gorm db data type
func (JSONStringSlice) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDBDataType(db)
}

// JSONInt64Slice is stored as a JSON array, implements driver.Valuer and sql.Scanner
type JSONInt64Slice []int64

// Value return json value, implement driver.Valuer interface
func (s JSONInt64Slice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]int64(s))
	return string(ba), err
}

// Scan scan value into the slice, implements sql.Scanner interface
func (s *JSONInt64Slice) Scan(val interface{}) error {
	ba, err := scanBytes(val)
	if err != nil {
		return err
	}
	t := make([]int64, 0)
	err = json.Unmarshal(ba, &t)
	*s = JSONInt64Slice(t)
	return err
}

// MarshalJSON never outputs null, an empty set is []
func (s JSONInt64Slice) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int64(s))
}

// GormDataType gorm common data type
func (JSONInt64Slice) GormDataType() string {
	return "jsonint64slice"
}

// GormDBDataType gorm db data type
func (JSONInt64Slice) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDBDataType(db)
}

func scanBytes(val interface{}) ([]byte, error) {
	switch v := val.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return []byte("[]"), nil
	default:
		return nil, fmt.Errorf("failed to unmarshal JSON value: %v", val)
	}
}

func jsonDBDataType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
