package realtime

import (
	"bytes"
	"testing"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"habit:checkin","payload":{"habit_id":7}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != "habit:checkin" {
		t.Fatalf("event = %q", f.Event)
	}
	if !bytes.Equal(f.Payload, []byte(`{"habit_id":7}`)) {
		t.Fatalf("payload = %s", f.Payload)
	}
}

func TestParseFrameRejectsMissingEvent(t *testing.T) {
	if _, err := ParseFrame([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("frame without event must be rejected")
	}
	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Fatal("malformed frame must be rejected")
	}
}

func TestEncodeFrame(t *testing.T) {
	raw := EncodeFrame("nudge", []byte(`{"from":"bob"}`))
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("parse encoded: %v", err)
	}
	if f.Event != "nudge" || !bytes.Equal(f.Payload, []byte(`{"from":"bob"}`)) {
		t.Fatalf("round trip mismatch: %s", raw)
	}

	// Payload is optional.
	f, err = ParseFrame(EncodeFrame("ping", nil))
	if err != nil {
		t.Fatalf("parse payloadless: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("payload = %s, want empty", f.Payload)
	}
}
