package membership

import (
	"strings"

	errs "HabitLink/tools/errs"
)

// Room identities are plain string keys connections subscribe to:
// "challenge:<id>", "team:<id>", "habit:<id>", "user:<id>". Membership is
// re-derived from the relational store on every join; nothing is persisted
// about rooms themselves.

const (
	KindChallenge = "challenge"
	KindTeam      = "team"
	KindHabit     = "habit"
	KindUser      = "user"
)

// UserRoom returns a user's personal room key.
func UserRoom(userID string) string { return KindUser + ":" + userID }

// ParseRoom splits a room key into kind and id.
func ParseRoom(room string) (kind, id string, err error) {
	i := strings.IndexByte(room, ':')
	if i <= 0 || i == len(room)-1 {
		return "", "", errs.ErrRoomUnknown.WithDetail(room)
	}
	kind, id = room[:i], room[i+1:]
	switch kind {
	case KindChallenge, KindTeam, KindHabit, KindUser:
		return kind, id, nil
	default:
		return "", "", errs.ErrRoomUnknown.WithDetail(room)
	}
}
