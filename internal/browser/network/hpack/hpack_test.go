package hpack

import (
	"bytes"
	"encoding/hex"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xhpack "golang.org/x/net/http2/hpack"
)

// -- Test Helpers --

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func fields(kv ...string) []HeaderField {
	out := make([]HeaderField, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, HeaderField{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

// -- Tests --

func TestInteger(t *testing.T) {
	tests := []struct {
		name  string
		n     uint8
		value uint64
		wire  []byte
	}{
		{"fits prefix", 5, 10, []byte{0x0a}},
		{"rfc 1337", 5, 1337, []byte{0x1f, 0x9a, 0x0a}},
		{"full octet", 8, 42, []byte{0x2a}},
		{"exactly limit", 7, 127, []byte{0x7f, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, AppendInteger(nil, 0, tt.n, tt.value))
			got, rest, err := ReadInteger(tt.wire, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
			assert.Empty(t, rest)
		})
	}

	_, _, err := ReadInteger([]byte{0x1f, 0x9a}, 5)
	assert.ErrorIs(t, err, ErrTruncated)
	_, _, err = ReadInteger(append([]byte{0xff}, bytes.Repeat([]byte{0xff}, 10)...), 7)
	assert.ErrorIs(t, err, ErrIntOverflow)
}

func TestString(t *testing.T) {
	for _, huff := range []bool{false, true} {
		b := AppendString(nil, "www.example.com", huff)
		assert.Equal(t, huff, b[0]&0x80 != 0)
		s, rest, err := ReadString(b, 0)
		require.NoError(t, err)
		assert.Equal(t, "www.example.com", s)
		assert.Empty(t, rest)
	}

	// Huffman is skipped when it would not save space.
	b := AppendString(nil, "\x00\x01", true)
	assert.Zero(t, b[0]&0x80)

	_, _, err := ReadString([]byte{0x05, 'a'}, 0)
	assert.ErrorIs(t, err, ErrTruncated)
	_, _, err = ReadString(AppendString(nil, "toolong", false), 3)
	assert.ErrorIs(t, err, ErrStringLength)
}

func TestStaticTable(t *testing.T) {
	assert.Equal(t, 61, StaticTableLen)
	d := NewDecoder(DefaultTableSize)
	got, err := d.Decode([]byte{0x82, 0xbd})
	require.NoError(t, err)
	assert.Equal(t, fields(":method", "GET", "www-authenticate", ""), got)
}

func TestDecoder_RFC7541RequestSequence(t *testing.T) {
	// RFC 7541 appendix C.3, requests without Huffman coding.
	d := NewDecoder(DefaultTableSize)
	steps := []struct {
		block string
		want  []HeaderField
		size  uint32
	}{
		{
			block: "828684410f7777772e6578616d706c652e636f6d",
			want:  fields(":method", "GET", ":scheme", "http", ":path", "/", ":authority", "www.example.com"),
			size:  57,
		},
		{
			block: "828684be58086e6f2d6361636865",
			want:  fields(":method", "GET", ":scheme", "http", ":path", "/", ":authority", "www.example.com", "cache-control", "no-cache"),
			size:  110,
		},
		{
			block: "828785bf400a637573746f6d2d6b65790c637573746f6d2d76616c7565",
			want:  fields(":method", "GET", ":scheme", "https", ":path", "/index.html", ":authority", "www.example.com", "custom-key", "custom-value"),
			size:  164,
		},
	}
	for _, step := range steps {
		got, err := d.Decode(mustHex(t, step.block))
		require.NoError(t, err)
		if diff := cmp.Diff(step.want, got); diff != "" {
			t.Fatalf("decode mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, step.size, d.Table().Size())
	}
	newest, ok := d.Table().At(1)
	require.True(t, ok)
	assert.Equal(t, "custom-key", newest.Name)
}

func TestDecoder_RFC7541Huffman(t *testing.T) {
	// RFC 7541 appendix C.4.1.
	d := NewDecoder(DefaultTableSize)
	got, err := d.Decode(mustHex(t, "828684418cf1e3c2e5f23a6ba0ab90f4ff"))
	require.NoError(t, err)
	assert.Equal(t, fields(":method", "GET", ":scheme", "http", ":path", "/", ":authority", "www.example.com"), got)
}

func TestDecoder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
		want  error
	}{
		{"index zero", []byte{0x80}, ErrTableCorrupt},
		{"index past dynamic table", []byte{0xbe}, ErrTableCorrupt},
		{"size update over limit", AppendInteger(nil, 0x20, 5, 8192), ErrTableCorrupt},
		{"size update after field", []byte{0x82, 0x20}, ErrTableCorrupt},
		{"truncated literal", []byte{0x40, 0x03, 'a'}, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(DefaultTableSize).Decode(tt.block)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDynamicTable_Eviction(t *testing.T) {
	tbl := NewDynamicTable(100)
	a := HeaderField{Name: "aaaa", Value: "1111"} // 40
	b := HeaderField{Name: "bbbb", Value: "2222"}
	c := HeaderField{Name: "cccc", Value: "3333"}

	tbl.Add(a)
	tbl.Add(b)
	assert.Equal(t, uint32(80), tbl.Size())

	tbl.Add(c)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, uint32(80), tbl.Size())
	newest, _ := tbl.At(1)
	oldest, _ := tbl.At(2)
	assert.Equal(t, c, newest)
	assert.Equal(t, b, oldest)

	tbl.SetMaxSize(40)
	assert.Equal(t, 1, tbl.Len())

	tbl.Add(HeaderField{Name: "huge", Value: string(make([]byte, 100))})
	assert.Zero(t, tbl.Len(), "oversized entry empties the table")
	assert.Zero(t, tbl.Size())
}

func TestEncoder_Representations(t *testing.T) {
	e := NewEncoder()
	e.SetHuffman(false)

	// Static pair, static name, new name.
	block := e.Encode(nil, fields(":method", "GET", ":authority", "x.test", "x-trace", "1"))
	want := []byte{0x82, 0x01, 0x06}
	want = append(want, "x.test"...)
	want = append(want, 0x40, 0x07)
	want = append(want, "x-trace"...)
	want = append(want, 0x01, '1')
	assert.Equal(t, want, block)
	assert.Equal(t, 1, e.Table().Len())

	// Repeat of an indexed new name hits the dynamic table.
	assert.Equal(t, []byte{0xbe}, e.Encode(nil, fields("x-trace", "1")))

	// Sensitive fields are never indexed.
	block = e.Encode(nil, []HeaderField{{Name: "authorization", Value: "secret", Sensitive: true}})
	assert.Equal(t, byte(0x1f), block[0])
	got, err := NewDecoder(DefaultTableSize).Decode(block)
	require.NoError(t, err)
	assert.True(t, got[0].Sensitive)
}

func TestEncoder_TableSizeUpdate(t *testing.T) {
	e := NewEncoder()
	d := NewDecoder(DefaultTableSize)

	_, err := d.Decode(e.Encode(nil, fields("x-a", "1")))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Table().Len())

	e.SetMaxDynamicTableSize(0)
	e.SetMaxDynamicTableSize(2048)
	block := e.Encode(nil, fields("x-b", "2"))
	assert.Equal(t, byte(0x20), block[0], "minimum size is signalled first")

	got, err := d.Decode(block)
	require.NoError(t, err)
	assert.Equal(t, fields("x-b", "2"), got)
	assert.Equal(t, uint32(2048), d.Table().MaxSize())
	assert.Equal(t, 1, d.Table().Len(), "shrink to zero evicted x-a")
}

func TestRoundTrip_SharedState(t *testing.T) {
	e := NewEncoder()
	d := NewDecoder(DefaultTableSize)
	lists := [][]HeaderField{
		fields(":method", "GET", ":path", "/", "user-agent", "loupe", "x-req", "a"),
		fields(":method", "GET", ":path", "/style.css", "user-agent", "loupe", "x-req", "b"),
		fields(":method", "POST", ":path", "/", "x-req", "a", "content-type", "text/plain"),
	}
	for _, list := range lists {
		got, err := d.Decode(e.Encode(nil, list))
		require.NoError(t, err)
		assert.Equal(t, list, got)
	}
	assert.Equal(t, e.Table().Size(), d.Table().Size())
}

func TestInteropWithXNet(t *testing.T) {
	list := fields(":status", "200", "content-type", "text/html", "set-cookie", "a=b", "x-powered-by", "tests")

	t.Run("x/net encodes", func(t *testing.T) {
		var buf bytes.Buffer
		enc := xhpack.NewEncoder(&buf)
		d := NewDecoder(DefaultTableSize)
		for range 2 {
			buf.Reset()
			for _, f := range list {
				require.NoError(t, enc.WriteField(xhpack.HeaderField{Name: f.Name, Value: f.Value}))
			}
			got, err := d.Decode(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, list, got)
		}
	})

	t.Run("x/net decodes", func(t *testing.T) {
		e := NewEncoder()
		dec := xhpack.NewDecoder(DefaultTableSize, nil)
		for range 2 {
			got, err := dec.DecodeFull(e.Encode(nil, list))
			require.NoError(t, err)
			require.Len(t, got, len(list))
			for i, f := range got {
				assert.Equal(t, list[i].Name, f.Name)
				assert.Equal(t, list[i].Value, f.Value)
			}
		}
	})
}

func FuzzRoundTrip(f *testing.F) {
	f.Add([]byte("seed-with-some-bytes-for-two-fields"))
	f.Fuzz(func(t *testing.T, data []byte) {
		var in struct{ Fields []HeaderField }
		if err := fuzz.NewConsumer(data).GenerateStruct(&in); err != nil {
			return
		}
		e := NewEncoder()
		d := NewDecoder(DefaultTableSize)
		for range 2 {
			got, err := d.Decode(e.Encode(nil, in.Fields))
			if err != nil {
				t.Fatal(err)
			}
			if len(in.Fields) == 0 && len(got) == 0 {
				continue
			}
			if diff := cmp.Diff(in.Fields, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		}
	})
}

func FuzzDecoder(f *testing.F) {
	f.Add([]byte{0x82, 0x86, 0x84, 0x41, 0x02, 'h', 'i'})
	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDecoder(DefaultTableSize)
		d.SetMaxStringLength(1 << 16)
		_, _ = d.Decode(data)
		if d.Table().Size() > d.Table().MaxSize() {
			t.Fatalf("table size %d exceeds max %d", d.Table().Size(), d.Table().MaxSize())
		}
	})
}
