package slcan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

func TestMarshalStandardFrame(t *testing.T) {
	fr, err := can.New(0x123, []byte{0xAB, 0xCD}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := Marshal(fr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(rec), "t1232ABCD\r"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMarshalExtendedFrame(t *testing.T) {
	fr, err := can.New(0x12ABCDEF, []byte{0x01}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := Marshal(fr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(rec), "T12ABCDEF101\r"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMarshalRemoteFrame(t *testing.T) {
	fr, err := can.New(0x100, make([]byte, 4), true, false)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := Marshal(fr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(rec), "r1004\r"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMarshalErrorFrameRejected(t *testing.T) {
	fr, err := can.New(0x04, []byte{0x20}, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Marshal(fr); !errors.Is(err, ErrUnsupportedFrame) {
		t.Fatalf("got %v, want ErrUnsupportedFrame", err)
	}
}

func TestUnmarshalRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		id   uint32
		data []byte
		rtr  bool
	}{
		{"std", 0x7FF, []byte{1, 2, 3, 4, 5, 6, 7, 8}, false},
		{"std empty", 0x080, nil, false},
		{"ext", 0x1FFFFFFF, []byte{0xFF}, false},
		{"rtr", 0x321, make([]byte, 2), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := can.New(tc.id, tc.data, tc.rtr, false)
			if err != nil {
				t.Fatal(err)
			}
			rec, err := Marshal(in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			out, err := Unmarshal(rec)
			if err != nil {
				t.Fatalf("unmarshal %q: %v", rec, err)
			}
			if out.ID() != in.ID() || out.Len() != in.Len() || out.IsRemote() != in.IsRemote() || out.IsExtended() != in.IsExtended() {
				t.Fatalf("got %v, want %v", out, in)
			}
			if !tc.rtr && !bytes.Equal(out.Data(), in.Data()) {
				t.Fatalf("payload %x, want %x", out.Data(), in.Data())
			}
		})
	}
}

func TestUnmarshalLowercaseHex(t *testing.T) {
	fr, err := Unmarshal([]byte("t1232abcd\r"))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fr.ID() != 0x123 || !bytes.Equal(fr.Data(), []byte{0xAB, 0xCD}) {
		t.Fatalf("got %v", fr)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	for _, rec := range []string{
		"",            // empty
		"x123\r",      // unknown kind
		"t12\r",       // short header
		"t123Z\r",     // bad dlc digit
		"t1239\r",     // dlc > 8
		"t1232AB\r",   // body shorter than dlc
		"t12G2ABCD\r", // bad id digit
	} {
		if _, err := Unmarshal([]byte(rec)); !errors.Is(err, ErrBadRecord) {
			t.Fatalf("%q: got %v, want ErrBadRecord", rec, err)
		}
	}
}

func TestBitrateCommand(t *testing.T) {
	cmd, err := bitrateCommand(500000)
	if err != nil {
		t.Fatalf("bitrate: %v", err)
	}
	if cmd != "S6\r" {
		t.Fatalf("got %q, want S6\\r", cmd)
	}
	if _, err := bitrateCommand(123456); !errors.Is(err, ErrBadBitrate) {
		t.Fatalf("got %v, want ErrBadBitrate", err)
	}
}
