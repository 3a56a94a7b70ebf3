package wire

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

func mkFrame(t testing.TB, id uint32, n int) can.Frame {
	t.Helper()
	if n < 0 {
		n = 0
	}
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	data := make([]byte, n)
	rand.Read(data)
	f, err := can.New(id, data, false, false)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestWireCodec_RoundTrip(t *testing.T) {
	codec := Codec{}
	in := []can.Frame{
		mkFrame(t, 0x1E5A, 8),
		mkFrame(t, 0x1F55, 6),
		mkFrame(t, 0x12345, 0),
		mkFrame(t, 0x181, 2),
	}

	buf := codec.Encode(in)
	var out []can.Frame
	br := bytes.NewReader(buf)
	n, err := codec.DecodeN(br, 0, func(f can.Frame) { out = append(out, f) })
	if err != io.EOF && err != nil { // expect EOF at clean end
		t.Fatalf("DecodeN unexpected err: %v", err)
	}
	if n != len(in) {
		t.Fatalf("decoded %d, want %d", n, len(in))
	}
	for i := range in {
		if out[i].Raw() != in[i].Raw() || out[i].Len() != in[i].Len() || !bytes.Equal(out[i].Data(), in[i].Data()) {
			t.Fatalf("frame %d mismatch: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestWireCodec_FlagsSurvive(t *testing.T) {
	codec := Codec{}
	errFrame, err := can.New(0x04, []byte{0x20}, false, true)
	if err != nil {
		t.Fatal(err)
	}
	buf := codec.Encode([]can.Frame{errFrame})
	got, err := codec.Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsError() || got.Raw() != errFrame.Raw() {
		t.Fatalf("flags lost: got raw 0x%08X, want 0x%08X", got.Raw(), errFrame.Raw())
	}
}

func TestWireCodec_EncodeToMatchesEncode(t *testing.T) {
	codec := Codec{}
	frames := []can.Frame{mkFrame(t, 0x10, 8), mkFrame(t, 0x11, 3)}
	a := codec.Encode(frames)
	var buf bytes.Buffer
	if _, err := codec.EncodeTo(&buf, frames); err != nil {
		t.Fatalf("EncodeTo error: %v", err)
	}
	if !bytes.Equal(a, buf.Bytes()) {
		t.Fatalf("Encode vs EncodeTo mismatch\nenc=% X\nencTo=% X", a, buf.Bytes())
	}
}

func TestWireCodec_DecodeErrors(t *testing.T) {
	codec := Codec{}
	// Invalid length: high bit masked, 0x89 -> 9 (>8)
	var bad bytes.Buffer
	bad.Write([]byte{0, 0, 0, 1})
	bad.WriteByte(0x89)
	if _, err := codec.Decode(&bad); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("got %v, want ErrInvalidLength", err)
	}

	// Truncated payload
	var trunc bytes.Buffer
	trunc.Write([]byte{0, 0, 0, 2})
	trunc.WriteByte(0x05)
	trunc.Write([]byte{1, 2, 3}) // only 3 of 5 bytes
	if _, err := codec.Decode(&trunc); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("got %v, want ErrTruncatedFrame", err)
	}
}

func BenchmarkWireCodec_Encode(b *testing.B) {
	codec := Codec{}
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = mkFrame(b, uint32(0x100+i), 8)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = codec.Encode(frames)
	}
}

func BenchmarkWireCodec_EncodeTo(b *testing.B) {
	codec := Codec{}
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = mkFrame(b, uint32(0x200+i), 8)
	}
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = codec.EncodeTo(&buf, frames)
	}
}

func BenchmarkWireCodec_DecodeN(b *testing.B) {
	codec := Codec{}
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = mkFrame(b, uint32(0x300+i), 8)
	}
	buf := codec.Encode(frames)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r := bytes.NewReader(buf)
		_, _ = codec.DecodeN(r, 0, func(can.Frame) {})
	}
}
