package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IdentityPayload is the identity document produced by an auth provider.
// Values follow encoding/json decoding rules: nested objects are maps,
// lists are []any, and numbers are json.Number when decoded with UseNumber.
type IdentityPayload map[string]any

// Get resolves a dotted path such as "account.id" or "accounts.0.id"
func (p IdentityPayload) Get(path string) (any, bool) {
	var current any = map[string]any(p)
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case IdentityPayload:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// String returns the scalar at path as a string, or "" when absent or not scalar
func (p IdentityPayload) String(path string) string {
	value, ok := p.Get(path)
	if !ok {
		return ""
	}
	return ScalarString(value)
}

// ExternalID returns the payload's "id" when it is a non-empty string
func (p IdentityPayload) ExternalID() (string, bool) {
	value, ok := p["id"]
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// List returns the list at path, or nil
func (p IdentityPayload) List(path string) []any {
	value, ok := p.Get(path)
	if !ok {
		return nil
	}
	list, _ := value.([]any)
	return list
}

// Names returns the string entries of the list at path. Object entries
// contribute their "name" or "slug".
func (p IdentityPayload) Names(path string) []string {
	var names []string
	for _, entry := range p.List(path) {
		switch v := entry.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name := ScalarString(v["name"]); name != "" {
				names = append(names, name)
			} else if slug := ScalarString(v["slug"]); slug != "" {
				names = append(names, slug)
			}
		}
	}
	return names
}

// ScalarString converts string, number and bool values to their string form
func ScalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return ""
	}
}

// AuthContext maps scoping header names to the values resolved for a request
type AuthContext map[string]string

// SyncContext carries the request scope the synchronizer may use
type SyncContext struct {
	AccountID string
	AppKey    string
}
