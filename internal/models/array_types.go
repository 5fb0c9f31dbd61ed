package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a Postgres UUID[] column
type UUIDArray []uuid.UUID

// Value implements the driver.Valuer interface
func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	strs := make([]string, len(a))
	for i, id := range a {
		strs[i] = id.String()
	}
	return pq.Array(strs).Value()
}

// Scan implements the sql.Scanner interface
func (a *UUIDArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var strs []string
	if err := pq.Array(&strs).Scan(src); err != nil {
		return err
	}
	ids := make(UUIDArray, 0, len(strs))
	for _, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid uuid in array: %w", err)
		}
		ids = append(ids, id)
	}
	*a = ids
	return nil
}

// DateArray maps a Postgres DATE[] parameter
type DateArray []Date

// Value implements the driver.Valuer interface
func (a DateArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	strs := make([]string, len(a))
	for i, d := range a {
		strs[i] = d.String()
	}
	return pq.Array(strs).Value()
}

// JSONB is a free-form JSON object column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
// Returns a string so it also works with the pgx simple protocol.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}
