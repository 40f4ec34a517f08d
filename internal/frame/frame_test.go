package frame

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/stockcache/internal/models"
)

func bars(symbol string, start time.Time, n int) *models.Series {
	s := models.NewSeries(symbol)
	for i := 0; i < n; i++ {
		p := 100 + float64(i)
		s.Index = append(s.Index, start.AddDate(0, 0, i))
		s.Rows = append(s.Rows, []float64{p, p + 1, p - 1, p + 0.5, 1000 * float64(i+1)})
	}
	return s
}

func TestNormalize_Series(t *testing.T) {
	s := bars("RELIANCE", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 3)

	got, err := Normalize(s)
	require.NoError(t, err)
	assert.Same(t, s, got)

	got, err = Normalize(*s)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())

	got, err = Normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNormalize_SplitFrame(t *testing.T) {
	sf := models.SplitFrame{
		Columns: []string{"Open", "High", "Low", "Close", "Volume"},
		Index:   []any{"2026-03-03", float64(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).UnixMilli())},
		Data: [][]float64{
			{2, 3, 1, 2.5, 20},
			{1, 2, 0.5, 1.5, 10},
		},
	}

	s, err := Normalize(&sf)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	// rows are reordered by timestamp
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), s.Index[0])
	v, ok := s.Value(1, "close")
	require.True(t, ok)
	assert.Equal(t, 2.5, v)
}

func TestNormalize_SplitFrameDateInLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	sf := models.SplitFrame{Columns: []string{"close"}, Index: []any{"2026-03-09"}, Data: [][]float64{{1}}}

	s, err := NormalizeIn(sf, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), s.Index[0])
}

func TestNormalize_Map(t *testing.T) {
	m := map[string]any{
		"symbol":  "TCS",
		"columns": []any{"close", "volume"},
		"index":   []any{"2026-03-02T09:15:00Z", "2026-03-02T09:16:00Z"},
		"data":    []any{[]any{10.0, 5.0}, []any{11.0, nil}},
	}

	s, err := Normalize(m)
	require.NoError(t, err)
	assert.Equal(t, "TCS", s.Symbol)
	assert.Equal(t, 2, s.Len())
	v, _ := s.Value(1, "volume")
	assert.True(t, math.IsNaN(v), "null cell should decode as NaN")
}

func TestNormalize_Malformed(t *testing.T) {
	cases := map[string]any{
		"unsupported type": 42,
		"duplicate index": models.SplitFrame{
			Columns: []string{"close"},
			Index:   []any{"2026-03-02", "2026-03-02"},
			Data:    [][]float64{{1}, {2}},
		},
		"row width": models.SplitFrame{
			Columns: []string{"close", "volume"},
			Index:   []any{"2026-03-02"},
			Data:    [][]float64{{1}},
		},
		"index/data length": models.SplitFrame{
			Columns: []string{"close"},
			Index:   []any{"2026-03-02", "2026-03-03"},
			Data:    [][]float64{{1}},
		},
		"bad timestamp": models.SplitFrame{
			Columns: []string{"close"},
			Index:   []any{"yesterday"},
			Data:    [][]float64{{1}},
		},
		"map without columns": map[string]any{"index": []any{}, "data": []any{}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestNormalize_ArrowRecord(t *testing.T) {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "Date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "Close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "Volume", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	d1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	b.Field(0).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{arrow.Timestamp(d1.UnixMilli()), arrow.Timestamp(d2.UnixMilli())}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"INFY", "INFY"}, nil)
	b.Field(2).(*array.Float64Builder).AppendValues([]float64{1500, 1510}, nil)
	b.Field(3).(*array.Int64Builder).AppendValues([]int64{100, 200}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	s, err := Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "INFY", s.Symbol)
	assert.Equal(t, []string{"close", "volume"}, s.Columns)
	assert.Equal(t, d2, s.Index[1])
	v, _ := s.Value(1, "volume")
	assert.Equal(t, 200.0, v)
}

func TestCodec_EncodeDecode(t *testing.T) {
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	snap := models.NewSnapshot(date, false, models.TierLocal)
	snap.Series["RELIANCE"] = bars("RELIANCE", date.AddDate(0, 0, -5), 5)
	snap.Series["TCS"] = bars("TCS", date.AddDate(0, 0, -3), 3)
	snap.Series["TCS"].Rows[1][3] = math.NaN()
	snap.Series["EMPTY"] = models.NewSeries("EMPTY")

	data, err := Encode(snap)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, date, got.Date)
	assert.False(t, got.Intraday)
	assert.Equal(t, []string{"RELIANCE", "TCS"}, got.Symbols())

	tcs, _ := got.Get("TCS")
	require.Equal(t, 3, tcs.Len())
	assert.WithinDuration(t, snap.Series["TCS"].Index[2], tcs.Index[2], 0)
	v, _ := tcs.Value(1, "close")
	assert.True(t, math.IsNaN(v))
	v, _ = tcs.Value(2, "volume")
	assert.Equal(t, 3000.0, v)
}

func TestCodec_EncodeToFile(t *testing.T) {
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	snap := models.NewSnapshot(date, true, models.TierLocal)
	snap.Series["INFY"] = bars("INFY", date.AddDate(0, 0, -2), 2)

	f, err := os.Create(filepath.Join(t.TempDir(), "snap.arrow"))
	require.NoError(t, err)
	require.NoError(t, EncodeTo(f, snap))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, got.Intraday)
	assert.Equal(t, []string{"INFY"}, got.Symbols())

	mem, err := Encode(snap)
	require.NoError(t, err)
	fromMem, err := Decode(mem)
	require.NoError(t, err)
	assert.Equal(t, got.Symbols(), fromMem.Symbols())
}

func TestSeekBuffer(t *testing.T) {
	var b seekBuffer
	_, err := b.Write([]byte("hello world"))
	require.NoError(t, err)

	pos, err := b.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	_, _ = b.Write([]byte("HELLO"))
	assert.Equal(t, "HELLO world", string(b.Bytes()))

	pos, err = b.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
	_, _ = b.Write([]byte("there!"))
	assert.Equal(t, "HELLO there!", string(b.Bytes()))

	pos, err = b.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(14), pos)
	_, _ = b.Write([]byte("x"))
	assert.Equal(t, "HELLO there!\x00\x00x", string(b.Bytes()))

	_, err = b.Seek(-1, io.SeekStart)
	assert.Error(t, err)
	_, err = b.Seek(0, 42)
	assert.Error(t, err)
}

func TestCodec_DecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not arrow"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = Decode(nil)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestCodec_DecodeSplitJSON(t *testing.T) {
	doc := `{
		"SBIN": {"columns": ["open","high","low","close","volume"], "index": [1772409600000, 1772496000000], "data": [[1,2,0.5,1.5,10],[2,3,1,2.5,20]]},
		"BAD": {"columns": ["close"], "index": ["2026-03-02"], "data": [[1, 2]]}
	}`

	snap, skipped, err := DecodeSplitJSON([]byte(doc), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []string{"BAD"}, skipped)
	assert.Equal(t, []string{"SBIN"}, snap.Symbols())
	s, _ := snap.Get("SBIN")
	assert.Equal(t, "SBIN", s.Symbol)
	assert.Equal(t, 2, s.Len())

	_, _, err = DecodeSplitJSON([]byte("{not json"), time.UTC)
	assert.True(t, errors.Is(err, ErrMalformed))
}
