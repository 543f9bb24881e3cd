package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"anemometer-server/internal/modules/telemetry/types"
)

// csvHeader is derived from the JSON tags of types.Record so both exports
// always agree on field names and order.
var csvHeader = func() []string {
	t := reflect.TypeOf(types.Record{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out = append(out, name)
	}
	return out
}()

// CSVHeader returns the export column names.
func CSVHeader() []string {
	return append([]string(nil), csvHeader...)
}

// ExportCSV writes the whole history to w, one row per record in append
// order. Nothing is written when the history is empty.
func (s *Store) ExportCSV(w io.Writer) error {
	records := s.All()
	if len(records) == 0 {
		return ErrEmptyHistory
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(csvHeader))
	for i, rec := range records {
		csvRow(rec, row)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(rec types.Record, row []string) {
	v := reflect.ValueOf(rec)
	for i := range row {
		f := v.Field(i)
		switch f.Kind() {
		case reflect.String:
			row[i] = f.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			row[i] = strconv.FormatInt(f.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			row[i] = strconv.FormatUint(f.Uint(), 10)
		case reflect.Float32, reflect.Float64:
			row[i] = strconv.FormatFloat(f.Float(), 'f', -1, 64)
		default:
			row[i] = fmt.Sprint(f.Interface())
		}
	}
}
