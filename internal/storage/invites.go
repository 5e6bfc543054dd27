package storage

import (
	"context"
	"time"
)

type CheckedInvite struct {
	Code        string
	IsPermalink bool
	IsValid     bool
	ExpiresAt   *time.Time
	CheckedAt   time.Time
}

type Invite struct {
	Code        string
	IsPermalink *bool
	IsValid     *bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// InsertUncheckedInvite records a newly seen code; existing rows keep their
// validation state.
func (s *Store) InsertUncheckedInvite(ctx context.Context, code string) error {
	return withRetryExec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO invite (code) VALUES ($1)
			ON CONFLICT (code) DO NOTHING`, code)
		return err
	})
}

func (s *Store) InsertUncheckedInvites(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	return withRetryExec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO invite (code) SELECT UNNEST($1::text[])
			ON CONFLICT (code) DO NOTHING`, codes)
		return err
	})
}

// GetUncheckedInvites returns codes that were never validated, oldest first.
func (s *Store) GetUncheckedInvites(ctx context.Context, limit int) ([]string, error) {
	return withRetry(ctx, func(ctx context.Context) ([]string, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT code FROM invite
			WHERE updated_at IS NULL
			ORDER BY created_at, code
			LIMIT $1`, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var codes []string
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				return nil, err
			}
			codes = append(codes, code)
		}
		return codes, rows.Err()
	})
}

// InsertCheckedInvite is the only writer of the validation columns.
func (s *Store) InsertCheckedInvite(ctx context.Context, invite CheckedInvite) error {
	return withRetryExec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO invite (code, is_permalink, is_valid, expires_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO UPDATE SET
				is_permalink = excluded.is_permalink,
				is_valid = excluded.is_valid,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`,
			invite.Code,
			invite.IsPermalink,
			invite.IsValid,
			invite.ExpiresAt,
			invite.CheckedAt,
		)
		return err
	})
}

func (s *Store) GetInvite(ctx context.Context, code string) (Invite, error) {
	return withRetry(ctx, func(ctx context.Context) (Invite, error) {
		var invite Invite
		err := s.pool.QueryRow(ctx, `
			SELECT code, is_permalink, is_valid, expires_at, created_at, updated_at
			FROM invite WHERE code = $1`, code).Scan(
			&invite.Code,
			&invite.IsPermalink,
			&invite.IsValid,
			&invite.ExpiresAt,
			&invite.CreatedAt,
			&invite.UpdatedAt,
		)
		if err != nil {
			if isNoRows(err) {
				return Invite{}, ErrNotFound
			}
			return Invite{}, err
		}
		return invite, nil
	})
}

// RemoveOldInvites deletes invites created before the retention window.
func (s *Store) RemoveOldInvites(ctx context.Context, retentionDays int) (int64, error) {
	return withRetry(ctx, func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM invite
			WHERE created_at < NOW() - make_interval(days => $1::int)`, retentionDays)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}
