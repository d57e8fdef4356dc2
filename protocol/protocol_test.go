package protocol

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, []byte("OK")); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if err := WriteError(&buf, "E_INVALID bad topic"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}

	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != FrameTypeResponse || string(f.Body) != "OK" {
		t.Fatalf("got %v %q, want response OK", f.Type, f.Body)
	}

	f, err = ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != FrameTypeError || string(f.Body) != "E_INVALID bad topic" {
		t.Fatalf("got %v %q, want error", f.Type, f.Body)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage([]byte("hello world"))
	m.Attempts = 3

	decoded, err := DecodeMessage(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.ID != m.ID {
		t.Fatalf("id mismatch: got %s want %s", decoded.ID, m.ID)
	}
	if decoded.Attempts != 3 {
		t.Fatalf("attempts mismatch: got %d want 3", decoded.Attempts)
	}
	if string(decoded.Body) != "hello world" {
		t.Fatalf("body mismatch: got %q", decoded.Body)
	}
	if decoded.Timestamp.UnixNano() != m.Timestamp.UnixNano() {
		t.Fatalf("timestamp mismatch: got %v want %v", decoded.Timestamp, m.Timestamp)
	}
}

func TestDecodeMessageTooShort(t *testing.T) {
	if _, err := DecodeMessage([]byte("short")); err == nil {
		t.Fatal("expected error decoding too-short message")
	}
}

func TestReadCommandSub(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("SUB my-topic my-channel\n"))
	cmd, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd.Name != CmdSub || cmd.Topic != "my-topic" || cmd.Channel != "my-channel" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestPubRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePub(&buf, "orders", []byte("payload")); err != nil {
		t.Fatalf("WritePub: %v", err)
	}
	cmd, err := ReadCommand(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd.Name != CmdPub || cmd.Topic != "orders" || string(cmd.Body) != "payload" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestMpubRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bodies := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	if err := WriteMpub(&buf, "orders", bodies); err != nil {
		t.Fatalf("WriteMpub: %v", err)
	}
	cmd, err := ReadCommand(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd.Name != CmdMpub || len(cmd.Bodies) != 3 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	for i, b := range bodies {
		if string(cmd.Bodies[i]) != string(b) {
			t.Fatalf("body %d mismatch: got %q want %q", i, cmd.Bodies[i], b)
		}
	}
}

func TestReqRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	id := NewMessageID()
	if err := WriteReq(&buf, id, 5000); err != nil {
		t.Fatalf("WriteReq: %v", err)
	}
	cmd, err := ReadCommand(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd.Name != CmdReq || cmd.ID != id || cmd.Timeout != 5000 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestReadCommandUnknown(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("BOGUS\n"))
	if _, err := ReadCommand(r); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRdyDefaultsToOne(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("RDY\n"))
	cmd, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd.Count != 1 {
		t.Fatalf("got count %d, want 1", cmd.Count)
	}
}
