package membership

import (
	"testing"

	errs "HabitLink/tools/errs"
)

func TestParseRoom(t *testing.T) {
	cases := []struct {
		room string
		kind string
		id   string
	}{
		{"challenge:42", KindChallenge, "42"},
		{"team:9", KindTeam, "9"},
		{"habit:abc", KindHabit, "abc"},
		{"user:u-77", KindUser, "u-77"},
	}
	for _, tc := range cases {
		kind, id, err := ParseRoom(tc.room)
		if err != nil {
			t.Errorf("%s: %v", tc.room, err)
			continue
		}
		if kind != tc.kind || id != tc.id {
			t.Errorf("%s: got %s/%s", tc.room, kind, id)
		}
	}
}

func TestParseRoomRejectsMalformed(t *testing.T) {
	for _, room := range []string{"", "challenge", "challenge:", ":42", "session:1", "42"} {
		if _, _, err := ParseRoom(room); !errs.IsCode(err, errs.ErrRoomUnknown) {
			t.Errorf("%q: err = %v, want room unknown", room, err)
		}
	}
}

func TestUserRoom(t *testing.T) {
	if got := UserRoom("u-77"); got != "user:u-77" {
		t.Fatalf("UserRoom = %q", got)
	}
	kind, id, err := ParseRoom(UserRoom("u-77"))
	if err != nil || kind != KindUser || id != "u-77" {
		t.Fatalf("round trip: %s/%s err=%v", kind, id, err)
	}
}
