package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// dataField is the payload field that carries the generated records.
const dataField = "data"

// noise strips formatting tokens some model front-ends inject around the
// payload: a stray "json" marker after a fence and raw line breaks.
var noise = strings.NewReplacer("\njson", "", "\r", "", "\n", "")

var errNotArray = errors.New("data field is not an array")

// Extract returns the records embedded in a model reply. It never fails:
// a reply without a payload, with an unparseable payload, or with a
// missing or non-array "data" field yields an empty slice.
func Extract(raw string) []Row {
	t := ExtractTable(raw)
	if t.Rows == nil {
		return []Row{}
	}
	return t.Rows
}

// ExtractTable is Extract keeping the key order of the records: columns
// are listed in the order keys first appear across the records.
//
// The payload is the span from the first '{' to the last '}' of the
// cleaned reply, so prose before and after the object is tolerated.
func ExtractTable(raw string) Table {
	cleaned := noise.Replace(raw)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		slog.Warn("model reply carries no structured payload", "reply_len", len(raw))
		return Table{}
	}

	rows, order, err := decodePayload([]byte(cleaned[start : end+1]))
	if err != nil {
		slog.Warn("model reply payload rejected", "error", err, "reply_len", len(raw))
		return Table{}
	}
	return FromRows(rows, order)
}

// decodePayload parses a JSON object and returns the records of its data
// field together with the first-seen key order.
func decodePayload(span []byte) ([]Row, []string, error) {
	if !json.Valid(span) {
		return nil, nil, errors.New("invalid JSON")
	}

	dec := json.NewDecoder(bytes.NewReader(span))
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("open object: %w", err)
	}

	var data json.RawMessage
	found := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read key: %w", err)
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("read %q: %w", key, err)
		}
		if key == dataField {
			data, found = v, true
		}
	}
	if !found {
		return nil, nil, errors.New("data field missing")
	}
	return decodeRecords(data)
}

func decodeRecords(data json.RawMessage) ([]Row, []string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, nil, errNotArray
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, nil, fmt.Errorf("decode data: %w", err)
	}

	rows := make([]Row, 0, len(elems))
	var order []string
	seen := make(map[string]bool)
	skipped := 0
	for _, el := range elems {
		row, keys, err := decodeRecord(el)
		if err != nil {
			skipped++
			continue
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
		rows = append(rows, row)
	}
	if skipped > 0 {
		slog.Warn("skipped non-object records in model reply", "skipped", skipped, "kept", len(rows))
	}
	return rows, order, nil
}

// decodeRecord decodes a single JSON object into a Row, reporting its
// keys in document order.
func decodeRecord(el json.RawMessage) (Row, []string, error) {
	trimmed := bytes.TrimSpace(el)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil, errors.New("record is not an object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}

	row := make(Row)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := row[key]; !dup {
			keys = append(keys, key)
		}
		row[key] = normalize(v)
	}
	return row, keys, nil
}

// normalize converts json.Number to int64 when integral and float64
// otherwise, recursing into nested objects and arrays.
func normalize(v any) Value {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, inner := range x {
			x[k] = normalize(inner)
		}
		return x
	case []any:
		for i, inner := range x {
			x[i] = normalize(inner)
		}
		return x
	default:
		return v
	}
}
