package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dinder/session-server-go/internal/database"
	"github.com/dinder/session-server-go/internal/model"
)

// SessionRepository is the durable copy of session state. It satisfies
// store.Persister and store.Loader.
type SessionRepository interface {
	SaveSession(ctx context.Context, session *model.Session) error
	SaveVotes(ctx context.Context, session *model.Session, votes []model.Vote) error
	ArchiveSession(ctx context.Context, code string) error
	LoadActiveSessions(ctx context.Context) ([]*model.Session, error)
	FindByCode(ctx context.Context, code string) (*model.Session, error)
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type sessionRow struct {
	Code             string         `db:"code"`
	HostID           string         `db:"host_id"`
	Status           string         `db:"status"`
	Phase            string         `db:"phase"`
	SearchGeneration int            `db:"search_generation"`
	Roster           string         `db:"roster"`
	Outcome          sql.NullString `db:"outcome"`
	Archived         bool           `db:"archived"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

type participantRow struct {
	SessionCode string         `db:"session_code"`
	ID          string         `db:"id"`
	Position    int            `db:"position"`
	Name        string         `db:"name"`
	IsHost      bool           `db:"is_host"`
	Preferences sql.NullString `db:"preferences"`
	JoinedAt    time.Time      `db:"joined_at"`
}

type candidateRow struct {
	SessionCode string `db:"session_code"`
	ID          string `db:"id"`
	Position    int    `db:"position"`
	Data        string `db:"data"`
}

type voteRow struct {
	SessionCode   string    `db:"session_code"`
	ParticipantID string    `db:"participant_id"`
	CandidateID   string    `db:"candidate_id"`
	Value         bool      `db:"value"`
	CastAt        time.Time `db:"cast_at"`
}

type sessionRepo struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

// SaveSession writes the full session in one transaction. The row is reset
// even when an archived session held the same code, and participants,
// candidates and votes are replaced.
func (r *sessionRepo) SaveSession(ctx context.Context, s *model.Session) error {
	roster, outcome, err := encodeSessionFields(s)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO sessions (code, host_id, status, phase, search_generation, roster, outcome, archived, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)
			ON CONFLICT (code) DO UPDATE SET
				host_id = excluded.host_id,
				status = excluded.status,
				phase = excluded.phase,
				search_generation = excluded.search_generation,
				roster = excluded.roster,
				outcome = excluded.outcome,
				archived = FALSE,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`), s.Code, s.HostID, string(s.Status), string(s.Phase), s.SearchGeneration, roster, outcome, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM participants WHERE session_code = ?`), s.Code); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for i, p := range s.Participants {
			var prefs sql.NullString
			if p.Preferences != nil {
				data, err := json.Marshal(p.Preferences)
				if err != nil {
					return fmt.Errorf("encode preferences: %w", err)
				}
				prefs = sql.NullString{String: string(data), Valid: true}
			}
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO participants (session_code, id, position, name, is_host, preferences, joined_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`), s.Code, p.ID, i, p.Name, p.IsHost, prefs, p.JoinedAt)
			if err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM candidates WHERE session_code = ?`), s.Code); err != nil {
			return fmt.Errorf("clear candidates: %w", err)
		}
		for i, c := range s.Candidates {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode candidate: %w", err)
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO candidates (session_code, id, position, data) VALUES (?, ?, ?, ?)
			`), s.Code, c.ID, i, string(data))
			if err != nil {
				return fmt.Errorf("insert candidate: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM votes WHERE session_code = ?`), s.Code); err != nil {
			return fmt.Errorf("clear votes: %w", err)
		}
		for _, v := range s.Votes {
			if err := upsertVote(ctx, tx, s.Code, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveVotes updates the session row and upserts only the given votes.
func (r *sessionRepo) SaveVotes(ctx context.Context, s *model.Session, votes []model.Vote) error {
	roster, outcome, err := encodeSessionFields(s)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sessions SET status = ?, phase = ?, search_generation = ?, roster = ?, outcome = ?, updated_at = ?
			WHERE code = ?
		`), string(s.Status), string(s.Phase), s.SearchGeneration, roster, outcome, s.UpdatedAt, s.Code)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update session %s: %w", s.Code, sql.ErrNoRows)
		}
		for _, v := range votes {
			if err := upsertVote(ctx, tx, s.Code, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeSessionFields(s *model.Session) (string, sql.NullString, error) {
	roster, err := json.Marshal(s.Roster)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode roster: %w", err)
	}
	var outcome sql.NullString
	if s.Outcome != nil {
		data, err := json.Marshal(s.Outcome)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode outcome: %w", err)
		}
		outcome = sql.NullString{String: string(data), Valid: true}
	}
	return string(roster), outcome, nil
}

func upsertVote(ctx context.Context, tx *sqlx.Tx, code string, v model.Vote) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO votes (session_code, participant_id, candidate_id, value, cast_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_code, participant_id, candidate_id) DO UPDATE SET
			value = excluded.value,
			cast_at = excluded.cast_at
	`), code, v.ParticipantID, v.CandidateID, v.Value, v.CastAt)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

// ArchiveSession keeps the rows but marks the session completed and hidden
// from LoadActiveSessions.
func (r *sessionRepo) ArchiveSession(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET archived = TRUE, status = ?, updated_at = ? WHERE code = ?
	`), string(model.SessionStatusCompleted), time.Now(), code)
	return err
}

func (r *sessionRepo) LoadActiveSessions(ctx context.Context) ([]*model.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT * FROM sessions WHERE archived = FALSE AND status <> ? ORDER BY created_at
	`), string(model.SessionStatusCompleted))
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0, len(rows))
	for _, row := range rows {
		s, err := r.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *sessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT * FROM sessions WHERE code = ?`), code)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return r.hydrate(ctx, *found)
}

func (r *sessionRepo) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM sessions WHERE archived = TRUE AND updated_at < ?
	`), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) hydrate(ctx context.Context, row sessionRow) (*model.Session, error) {
	s := &model.Session{
		Code:             row.Code,
		HostID:           row.HostID,
		Status:           model.SessionStatus(row.Status),
		Phase:            model.Phase(row.Phase),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		SearchGeneration: row.SearchGeneration,
		Votes:            make(map[model.VoteKey]model.Vote),
	}
	if err := json.Unmarshal([]byte(row.Roster), &s.Roster); err != nil {
		return nil, fmt.Errorf("decode roster for %s: %w", row.Code, err)
	}
	if row.Outcome.Valid {
		s.Outcome = &model.Outcome{}
		if err := json.Unmarshal([]byte(row.Outcome.String), s.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome for %s: %w", row.Code, err)
		}
	}

	var participants []participantRow
	err := r.db.SelectContext(ctx, &participants, r.db.Rebind(`
		SELECT * FROM participants WHERE session_code = ? ORDER BY position
	`), row.Code)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		participant := model.Participant{
			ID:       p.ID,
			Name:     p.Name,
			IsHost:   p.IsHost,
			JoinedAt: p.JoinedAt,
		}
		if p.Preferences.Valid {
			var prefs model.Preferences
			if err := json.Unmarshal([]byte(p.Preferences.String), &prefs); err != nil {
				return nil, fmt.Errorf("decode preferences for %s/%s: %w", row.Code, p.ID, err)
			}
			participant.Preferences = &prefs
		}
		s.Participants = append(s.Participants, participant)
	}

	var candidates []candidateRow
	err = r.db.SelectContext(ctx, &candidates, r.db.Rebind(`
		SELECT * FROM candidates WHERE session_code = ? ORDER BY position
	`), row.Code)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		var ranked model.RankedCandidate
		if err := json.Unmarshal([]byte(c.Data), &ranked); err != nil {
			return nil, fmt.Errorf("decode candidate for %s/%s: %w", row.Code, c.ID, err)
		}
		s.Candidates = append(s.Candidates, ranked)
	}

	var votes []voteRow
	err = r.db.SelectContext(ctx, &votes, r.db.Rebind(`
		SELECT * FROM votes WHERE session_code = ?
	`), row.Code)
	if err != nil {
		return nil, err
	}
	for _, v := range votes {
		s.PutVote(model.Vote{
			SessionCode:   v.SessionCode,
			ParticipantID: v.ParticipantID,
			CandidateID:   v.CandidateID,
			Value:         v.Value,
			CastAt:        v.CastAt,
		})
	}
	return s, nil
}
