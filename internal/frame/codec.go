package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/bobmcallan/stockcache/internal/models"
)

// Schema metadata keys written into every snapshot file
const (
	metaColumns  = "columns"
	metaIntraday = "intraday"
	metaDate     = "date"
)

const (
	fieldSymbol = "symbol"
	fieldDate   = "date"
)

// Encode serialises a snapshot as a zstd-compressed Arrow IPC file held in memory.
func Encode(snap *models.Snapshot) ([]byte, error) {
	var buf seekBuffer
	if err := EncodeTo(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes a snapshot as a zstd-compressed Arrow IPC file. The file
// format seeks back to patch its footer, so w must be seekable.
// The table is long-form: one row per (symbol, bar), columns
// symbol:utf8, date:timestamp[ms, UTC] and one float64 per value column.
// Series without bars are not written.
func EncodeTo(w io.WriteSeeker, snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("cannot encode nil snapshot")
	}
	columns := unionColumns(snap)

	md := arrow.NewMetadata(
		[]string{metaColumns, metaIntraday, metaDate},
		[]string{strings.Join(columns, ","), strconv.FormatBool(snap.Intraday), snap.Date.Format("2006-01-02")},
	)
	fields := []arrow.Field{
		{Name: fieldSymbol, Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: fieldDate, Type: arrow.FixedWidthTypes.Timestamp_ms, Nullable: false},
	}
	for _, c := range columns {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, &md)

	pool := memory.NewGoAllocator()
	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	symB := b.Field(0).(*array.StringBuilder)
	tsB := b.Field(1).(*array.TimestampBuilder)
	for _, sym := range snap.Symbols() {
		s := snap.Series[sym]
		if s.Empty() {
			continue
		}
		pos := make([]int, len(columns))
		for c, name := range columns {
			pos[c] = s.ColumnIndex(name)
		}
		for i, ts := range s.Index {
			symB.Append(sym)
			tsB.Append(arrow.Timestamp(ts.UnixMilli()))
			for c, p := range pos {
				fb := b.Field(2 + c).(*array.Float64Builder)
				if p < 0 || p >= len(s.Rows[i]) || math.IsNaN(s.Rows[i][p]) {
					fb.AppendNull()
					continue
				}
				fb.Append(s.Rows[i][p])
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool), ipc.WithZstd())
	if err != nil {
		return fmt.Errorf("failed to create arrow file writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("failed to write snapshot record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to finalise arrow file: %w", err)
	}
	return nil
}

// seekBuffer is an in-memory io.WriteSeeker. Writes after a backward seek
// overwrite in place; a seek past the end zero-fills on the next write.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.buf))
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	b.pos = int(next)
	return next, nil
}

// Bytes returns the written contents.
func (b *seekBuffer) Bytes() []byte {
	return b.buf
}

// Decode parses a snapshot written by Encode. Nulls decode as NaN.
// Anything that is not a well-formed snapshot file returns an error wrapping ErrMalformed.
func Decode(data []byte) (*models.Snapshot, error) {
	pool := memory.NewGoAllocator()
	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(pool))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer r.Close()

	schema := r.Schema()
	snap := models.NewSnapshot(time.Time{}, false, models.TierNone)
	if v, ok := metaValue(schema, metaIntraday); ok {
		snap.Intraday, _ = strconv.ParseBool(v)
	}
	if v, ok := metaValue(schema, metaDate); ok {
		if d, err := time.Parse("2006-01-02", v); err == nil {
			snap.Date = d
		}
	}

	symIdx := schema.FieldIndices(fieldSymbol)
	dateIdx := schema.FieldIndices(fieldDate)
	if len(symIdx) != 1 || len(dateIdx) != 1 {
		return nil, fmt.Errorf("%w: snapshot schema lacks symbol/date fields", ErrMalformed)
	}

	var columns []string
	var valueIdx []int
	for i, f := range schema.Fields() {
		if i == symIdx[0] || i == dateIdx[0] {
			continue
		}
		columns = append(columns, f.Name)
		valueIdx = append(valueIdx, i)
	}

	for n := 0; n < r.NumRecords(); n++ {
		rec, err := r.Record(n)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformed, n, err)
		}
		syms, ok := rec.Column(symIdx[0]).(*array.String)
		if !ok {
			return nil, fmt.Errorf("%w: symbol column has type %s", ErrMalformed, rec.Column(symIdx[0]).DataType())
		}
		dateCol := rec.Column(dateIdx[0])
		for i := 0; i < int(rec.NumRows()); i++ {
			sym := syms.Value(i)
			ts, err := arrowTime(dateCol, i, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d: %v", ErrMalformed, sym, i, err)
			}
			row := make([]float64, len(valueIdx))
			for c, idx := range valueIdx {
				row[c] = arrowFloat(rec.Column(idx), i)
			}
			s, ok := snap.Series[sym]
			if !ok {
				s = models.NewSeries(sym, columns...)
				snap.Series[sym] = s
			}
			if err := s.Append(ts, row); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
	}
	return snap, nil
}

// DecodeSplitJSON parses a JSON document of the form {"SYM": {"columns", "index", "data"}}.
// Symbols whose frame is malformed are skipped and returned in the second value.
func DecodeSplitJSON(data []byte, loc *time.Location) (*models.Snapshot, []string, error) {
	var doc map[string]map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	snap := models.NewSnapshot(time.Time{}, false, models.TierNone)
	var skipped []string
	for sym, raw := range doc {
		s, err := NormalizeIn(raw, loc)
		if err != nil || s == nil {
			skipped = append(skipped, sym)
			continue
		}
		s.Symbol = sym
		snap.Series[sym] = s
	}
	if snap.Len() == 0 && len(skipped) > 0 {
		return nil, skipped, fmt.Errorf("%w: no usable series in document", ErrMalformed)
	}
	return snap, skipped, nil
}

// unionColumns returns every value column used by the snapshot, in first-seen order.
func unionColumns(snap *models.Snapshot) []string {
	var out []string
	seen := make(map[string]bool)
	for _, sym := range snap.Symbols() {
		for _, c := range snap.Series[sym].Columns {
			key := strings.ToLower(c)
			if key == fieldSymbol || key == fieldDate || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func metaValue(schema *arrow.Schema, key string) (string, bool) {
	md := schema.Metadata()
	i := md.FindKey(key)
	if i < 0 {
		return "", false
	}
	return md.Values()[i], true
}
