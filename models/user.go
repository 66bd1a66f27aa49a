package models

import (
	"time"
)

// LocalUser is a row of the configured users table.
// Columns are configurable, so attributes are kept keyed by column name.
type LocalUser struct {
	IDColumn   string         `json:"-"`
	Attributes map[string]any `json:"attributes"`
	// Created is set when the row was inserted by the current sync
	Created bool `json:"-"`
}

// NewLocalUser creates a LocalUser around a scanned row
func NewLocalUser(idColumn string, attributes map[string]any) *LocalUser {
	if attributes == nil {
		attributes = make(map[string]any)
	}
	return &LocalUser{
		IDColumn:   idColumn,
		Attributes: attributes,
	}
}

// ID returns the model identifier
func (u *LocalUser) ID() any {
	return u.Attributes[u.IDColumn]
}

// IDString returns the model identifier as a string
func (u *LocalUser) IDString() string {
	return ScalarString(u.ID())
}

// Get returns a column value, nil when the column is unknown or NULL
func (u *LocalUser) Get(column string) any {
	if column == "" {
		return nil
	}
	return u.Attributes[column]
}

// String returns a column value as a string
func (u *LocalUser) String(column string) string {
	return ScalarString(u.Get(column))
}

// Has reports whether the column holds a non-empty value
func (u *LocalUser) Has(column string) bool {
	switch v := u.Get(column).(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []byte:
		return len(v) > 0
	default:
		return true
	}
}

// Public returns the attributes without the hidden columns
func (u *LocalUser) Public(hidden ...string) map[string]any {
	out := make(map[string]any, len(u.Attributes))
	for k, v := range u.Attributes {
		out[k] = v
	}
	for _, column := range hidden {
		delete(out, column)
	}
	return out
}

// Time returns a column value as a time when the driver produced one
func (u *LocalUser) Time(column string) (time.Time, bool) {
	t, ok := u.Get(column).(time.Time)
	return t, ok
}
