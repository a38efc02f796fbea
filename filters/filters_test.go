package filters

import (
	"bytes"
	"context"
	"testing"

	"pdfdewm/ir/raw"
)

func decodeOne(t *testing.T, name string, in []byte, params *raw.DictObj) []byte {
	t.Helper()
	out, err := Default().Decode(context.Background(), in, []string{name}, []*raw.DictObj{params})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func TestFlateRoundTrip(t *testing.T) {
	plain := []byte("q 1 0 0 1 10 10 cm /Im0 Do Q")
	encoded, err := FlateEncode(plain)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := decodeOne(t, "FlateDecode", encoded, nil)
	if !bytes.Equal(out, plain) {
		t.Errorf("round trip = %q, want %q", out, plain)
	}
}

func TestFlatePNGUpPredictor(t *testing.T) {
	// Two rows of 4 bytes with the Up predictor: the second row stores
	// deltas against the first.
	raw1 := []byte{10, 20, 30, 40}
	raw2 := []byte{15, 25, 35, 45}
	var pre bytes.Buffer
	pre.WriteByte(2) // Up
	pre.Write(raw1)  // deltas against an all-zero previous row
	pre.WriteByte(2)
	for i := range raw2 {
		pre.WriteByte(raw2[i] - raw1[i])
	}
	encoded, err := FlateEncode(pre.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(12))
	params.Set("Columns", raw.NumberInt(4))

	out := decodeOne(t, "FlateDecode", encoded, params)
	want := append(append([]byte(nil), raw1...), raw2...)
	if !bytes.Equal(out, want) {
		t.Errorf("predictor output = %v, want %v", out, want)
	}
}

func TestASCIIHex(t *testing.T) {
	out := decodeOne(t, "ASCIIHexDecode", []byte("48 65 6c 6C 6f>"), nil)
	if string(out) != "Hello" {
		t.Errorf("decoded = %q", out)
	}
	// Odd digit count implies a trailing zero nibble.
	out = decodeOne(t, "ASCIIHexDecode", []byte("7>"), nil)
	if !bytes.Equal(out, []byte{0x70}) {
		t.Errorf("odd-length decode = %v", out)
	}
}

func TestASCII85(t *testing.T) {
	out := decodeOne(t, "ASCII85Decode", []byte("<~87cUR~>"), nil)
	if string(out) != "Hell" {
		t.Errorf("decoded = %q", out)
	}
}

func TestRunLength(t *testing.T) {
	// 3 literal bytes, then 'x' repeated 257-253 = 4 times, then EOD.
	in := []byte{2, 'a', 'b', 'c', 253, 'x', 128}
	out := decodeOne(t, "RunLengthDecode", in, nil)
	if string(out) != "abcxxxx" {
		t.Errorf("decoded = %q", out)
	}
}

func TestRunLengthTruncated(t *testing.T) {
	_, err := Default().Decode(context.Background(), []byte{5, 'a'}, []string{"RunLengthDecode"}, nil)
	if err == nil {
		t.Fatal("truncated literal accepted")
	}
}

func TestChainedFilters(t *testing.T) {
	plain := []byte("chained payload")
	flated, err := FlateEncode(plain)
	if err != nil {
		t.Fatal(err)
	}
	hexed := make([]byte, 0, len(flated)*2+1)
	const digits = "0123456789abcdef"
	for _, b := range flated {
		hexed = append(hexed, digits[b>>4], digits[b&0xf])
	}
	hexed = append(hexed, '>')

	out, err := Default().Decode(context.Background(), hexed,
		[]string{"ASCIIHexDecode", "FlateDecode"}, nil)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Errorf("chain output = %q, want %q", out, plain)
	}
}

func TestImageCodecsPassThrough(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	for _, name := range []string{"DCTDecode", "JPXDecode", "CCITTFaxDecode", "JBIG2Decode"} {
		out, err := Default().Decode(context.Background(), jpeg, []string{name}, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !bytes.Equal(out, jpeg) {
			t.Errorf("%s altered the payload", name)
		}
	}
}

func TestUnknownFilter(t *testing.T) {
	_, err := Default().Decode(context.Background(), nil, []string{"BogusDecode"}, nil)
	if err == nil {
		t.Fatal("unknown filter accepted")
	}
}

func TestDecompressionLimit(t *testing.T) {
	big, err := FlateEncode(bytes.Repeat([]byte{0}, 1024))
	if err != nil {
		t.Fatal(err)
	}
	p := NewPipeline([]Decoder{NewFlateDecoder()}, Limits{MaxDecompressedSize: 100})
	if _, err := p.Decode(context.Background(), big, []string{"FlateDecode"}, nil); err == nil {
		t.Fatal("oversized output accepted")
	}
}
