package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/protocol"
)

type ping struct {
	Seq int `json:"seq"`
}

func jsonEncode[T any](msg *T, dst []byte) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

func jsonDecode[T any](body []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func TestLUTRoundTrip(t *testing.T) {
	lut := protocol.NewLUT()
	if err := protocol.RegisterMessage(lut, 7, jsonEncode[ping], jsonDecode[ping]); err != nil {
		t.Fatalf("register: %v", err)
	}

	buf := make([]byte, 256)
	id, n, err := lut.EncodeByType(&ping{Seq: 9}, buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d, want 7", id)
	}

	msg, err := lut.Decode(id, buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := msg.(*ping)
	if !ok || got.Seq != 9 {
		t.Fatalf("decoded = %#v", msg)
	}
}

func TestLUTUnknowns(t *testing.T) {
	lut := protocol.NewLUT()
	if _, _, err := lut.EncodeByType(&ping{}, make([]byte, 16)); !errors.Is(err, api.ErrUnknownMessageType) {
		t.Fatalf("encode err = %v, want ErrUnknownMessageType", err)
	}
	if _, err := lut.Decode(99, nil); !errors.Is(err, api.ErrUnknownMessageID) {
		t.Fatalf("decode err = %v, want ErrUnknownMessageID", err)
	}
}

func TestLUTDecodeError(t *testing.T) {
	lut := protocol.NewLUT()
	if err := protocol.RegisterMessage(lut, 7, jsonEncode[ping], jsonDecode[ping]); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := lut.Decode(7, []byte("{broken")); !errors.Is(err, api.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestLUTReservedAndDuplicate(t *testing.T) {
	lut := protocol.NewLUT()
	if err := lut.Register(protocol.UDPConnectMessageID, &ping{}, nil, nil); err == nil {
		t.Fatal("reserved id registration succeeded")
	}
	if err := protocol.RegisterMessage(lut, 7, jsonEncode[ping], jsonDecode[ping]); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := protocol.RegisterMessage(lut, 7, jsonEncode[ping], jsonDecode[ping]); err == nil {
		t.Fatal("duplicate id registration succeeded")
	}
}
