package membership

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	errs "HabitLink/tools/errs"
)

// Store answers "does user U belong to room R". Read-only; the realtime core
// never writes through this interface.
type Store interface {
	IsMember(ctx context.Context, userID, room string) (bool, error)
}

// PGStore resolves membership against the habit-tracking relational schema.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(dctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) IsMember(ctx context.Context, userID, room string) (bool, error) {
	kind, id, err := ParseRoom(room)
	if err != nil {
		return false, err
	}

	var q string
	switch kind {
	case KindUser:
		// personal room, only the owner may join
		return id == userID, nil
	case KindChallenge:
		q = `SELECT EXISTS(
		       SELECT 1 FROM challenge_participants
		       WHERE challenge_id = $1 AND user_id = $2)`
	case KindTeam:
		q = `SELECT EXISTS(
		       SELECT 1 FROM team_members
		       WHERE team_id = $1 AND user_id = $2)`
	case KindHabit:
		// owner or an accepted accountability partner
		q = `SELECT EXISTS(
		       SELECT 1 FROM habits WHERE id = $1 AND user_id = $2
		       UNION
		       SELECT 1 FROM habit_partners
		       WHERE habit_id = $1 AND partner_id = $2 AND accepted_at IS NOT NULL)`
	default:
		return false, errs.ErrRoomUnknown.WithDetail(room)
	}

	var ok bool
	if err := s.pool.QueryRow(ctx, q, id, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// AllowAll approves every membership check. Development and test use.
type AllowAll struct{}

func (AllowAll) IsMember(_ context.Context, _, _ string) (bool, error) { return true, nil }
