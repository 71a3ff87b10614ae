package publisher

import (
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilter(t *testing.T) {
	tests := []struct {
		name     string
		kinds    []string
		patterns []string
		kind     string
		database string
		want     bool
	}{
		{"empty matches all", nil, nil, "closed", "/var/db/a.sql", true},
		{"kind hit", []string{"opened", "closed"}, nil, "closed", "a.sql", true},
		{"kind miss", []string{"opened"}, nil, "query_finished", "a.sql", false},
		{"bare name", nil, []string{"*.sql"}, "opened", "geobase.sql", true},
		{"star stops at separator", nil, []string{"*.sql"}, "opened", "data/geobase.sql", false},
		{"double star crosses directories", nil, []string{"**/geobase.sql"}, "opened", "/srv/data/geobase.sql", true},
		{"any pattern", nil, []string{"x.sql", "y.sql"}, "opened", "y.sql", true},
		{"kind and database", []string{"opened"}, []string{"a.sql"}, "opened", "b.sql", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewGlobFilter(tt.kinds, tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.kind, tt.database))
		})
	}
}

func TestNewEncoder(t *testing.T) {
	for _, format := range []string{"", "json", "msgpack"} {
		enc, err := NewEncoder(format, "")
		require.NoError(t, err, format)

		data, err := enc.Encode(Event{Seq: 1, Kind: "opened", Database: "a.sql", OK: true})
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}

	enc, _ := NewEncoder("json", "none")
	data, err := enc.Encode(Event{Seq: 2, Kind: "closed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":2,"kind":"closed","database":"","db_handle":0,"request_id":0,"ok":false,"instance_id":0,"ts":0}`, string(data))
	assert.Equal(t, "application/json", enc.ContentType())

	_, err = NewEncoder("avro", "")
	assert.Error(t, err)
	_, err = NewEncoder("json", "gzip")
	assert.Error(t, err)
}

func TestZstdEncoder(t *testing.T) {
	enc, err := NewEncoder("json", "best")
	require.NoError(t, err)
	assert.Equal(t, "application/json+zstd", enc.ContentType())

	event := Event{Seq: 3, Kind: "query_finished", Database: "geobase.sql", Err: strings.Repeat("constraint failed ", 20)}
	data, err := enc.Encode(event)
	require.NoError(t, err)

	plain, err := JSONEncoder{}.Encode(event)
	require.NoError(t, err)
	assert.Less(t, len(data), len(plain))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(plain), string(out))
}

func TestMsgpackRoundTripPreservesEvent(t *testing.T) {
	in := Event{Seq: 9, Kind: "query_finished", Database: "a.sql", Query: 5, Err: "boom", Instance: 3, Timestamp: 1700000000000}
	data, err := MsgpackEncoder{}.Encode(in)
	require.NoError(t, err)

	var out Event
	require.NoError(t, unmarshalEvent(data, &out))
	assert.Equal(t, in, out)
}
