// Package csvfile stores tables as UTF-8 CSV files (with BOM) in a local
// directory. The codec is shared with the S3 store.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/TabForge/internal/domain/dataset"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Encode renders t as CSV with a UTF-8 BOM. The header is t.Columns; a
// cell missing from a row, or nil, is written empty.
func Encode(w io.Writer, t dataset.Table) error {
	if _, err := w.Write(bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if len(t.Columns) > 0 {
		if err := cw.Write(t.Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	rec := make([]string, len(t.Columns))
	for i := range t.Rows {
		for j, v := range t.Cells(i) {
			s, err := formatCell(v)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", i, t.Columns[j], err)
			}
			rec[j] = s
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeBytes encodes t and returns the bytes with their hex blake2b-256 sum.
func EncodeBytes(t dataset.Table) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, t); err != nil {
		return nil, "", err
	}
	sum := blake2b.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

func formatCell(v dataset.Value) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// Decode reads a CSV table. A leading BOM is skipped. Cells are typed:
// empty becomes nil, integers int64, other numbers float64, the rest stay
// strings. Blank or repeated header names are made unique.
func Decode(r io.Reader) (dataset.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return dataset.Table{}, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, bom)

	cr := csv.NewReader(bytes.NewReader(data))
	header, err := cr.Read()
	if err == io.EOF {
		return dataset.Table{}, nil
	}
	if err != nil {
		return dataset.Table{}, fmt.Errorf("read header: %w", err)
	}

	t := dataset.Table{Columns: uniqueHeader(header)}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return dataset.Table{}, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		row := make(dataset.Row, len(t.Columns))
		for j, col := range t.Columns {
			row[col] = parseCell(rec[j])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseCell(s string) dataset.Value {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	// ParseFloat also accepts "nan" and "inf"; those stay text.
	if strings.ContainsAny(s, "0123456789") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func uniqueHeader(h []string) []string {
	out := make([]string, len(h))
	used := make(map[string]bool, len(h))
	for i, name := range h {
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		candidate := name
		for k := 1; used[candidate]; k++ {
			candidate = fmt.Sprintf("%s.%d", name, k)
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}
