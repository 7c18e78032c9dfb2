package proto

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeFrameEnvelope(t *testing.T) {
	data, err := EncodeFrame(TypeSession, SessionPayload{Token: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "\x00[SESSION]") {
		t.Fatalf("envelope prefix wrong: %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("envelope missing trailing newline: %q", s)
	}
	if !strings.Contains(s, `"token":"abc"`) {
		t.Fatalf("payload missing: %q", s)
	}
}

func TestEncodeFrameRejectsUnknownType(t *testing.T) {
	if _, err := EncodeFrame(FrameType("NOPE"), nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeInboundText(t *testing.T) {
	in, err := DecodeInbound([]byte("look around\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if in.Kind != KindText || in.Text != "look around" {
		t.Fatalf("in = %+v", in)
	}
}

func TestDecodeInboundFrame(t *testing.T) {
	in, err := DecodeInbound([]byte("\x00[AUTH]{\"name\":\"a\",\"password\":\"b\"}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if in.Kind != KindFrame || in.Type != TypeAuth {
		t.Fatalf("in = %+v", in)
	}
	if !strings.Contains(string(in.Body), `"name":"a"`) {
		t.Fatalf("body = %s", in.Body)
	}
}

func TestDecodeInboundErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		want error
	}{
		{"unknown type", "\x00[BOGUS]{}", ErrUnknownType},
		{"unterminated type", "\x00[AUTH{}", ErrMalformed},
		{"missing bracket", "\x00AUTH{}", ErrMalformed},
		{"invalid json", "\x00[AUTH]{broken", ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeInbound([]byte(tc.data)); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeInboundEmptyFrameBody(t *testing.T) {
	in, err := DecodeInbound([]byte("\x00[SESSION]"))
	if err != nil {
		t.Fatal(err)
	}
	if in.Kind != KindFrame || len(in.Body) != 0 {
		t.Fatalf("in = %+v", in)
	}
}
