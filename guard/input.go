package guard

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/upb/auth-bridge/models"
)

// DefaultMaxBodyBytes bounds how much of a request body is read for input fields
const DefaultMaxBodyBytes = 1 << 20

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")
)

// Input exposes the query string and body fields of a request by name.
// Body fields win over query parameters of the same name.
type Input struct {
	query url.Values
	body  map[string]any
}

// replayBody serves the bytes already consumed, then the unread remainder
type replayBody struct {
	io.Reader
	io.Closer
}

// ReadInput parses the query string and a JSON or urlencoded body. At most
// maxBytes are parsed; the full body is restored so downstream handlers can
// read it again.
func ReadInput(r *http.Request, maxBytes int64) (*Input, error) {
	in := &Input{query: r.URL.Query()}
	if r.Body == nil || r.Body == http.NoBody {
		return in, nil
	}

	mediaType, err := contenttype.GetMediaType(r)
	if err != nil {
		return in, nil
	}
	isJSON := mediaType.Matches(jsonMediaType)
	isForm := mediaType.Matches(formMediaType)
	if !isJSON && !isForm {
		return in, nil
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	orig := r.Body
	data, err := io.ReadAll(io.LimitReader(orig, maxBytes))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(data), orig), Closer: orig}
	if err != nil {
		return in, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return in, nil
	}

	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return in, err
		}
		in.body = fields
		return in, nil
	}

	values, err := url.ParseQuery(string(data))
	if err != nil {
		return in, err
	}
	in.body = make(map[string]any, len(values))
	for key := range values {
		in.body[key] = values.Get(key)
	}
	return in, nil
}

// Get returns the scalar value of a field as a string, "" when absent
func (in *Input) Get(key string) string {
	if in == nil || key == "" {
		return ""
	}
	if value, ok := in.body[key]; ok {
		if s := models.ScalarString(value); s != "" {
			return s
		}
	}
	return in.query.Get(key)
}

// SnakeCase derives the body field name of a header: "X-Account-ID" becomes "x_account_id"
func SnakeCase(header string) string {
	replacer := strings.NewReplacer("-", "_", " ", "_")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(header)))
}
