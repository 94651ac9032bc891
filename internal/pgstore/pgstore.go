// Package pgstore serves the chat core straight from Postgres, for
// deployments that hand out a database URL instead of a PostgREST endpoint.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrGroupNotFound   = errors.New("group not found")
	ErrThreadNotFound  = errors.New("support thread not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// Store implements the message, scope and profile reads and writes on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is not set")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("database connected")
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const messageColumns = "id, group_id, thread_id, author_id, kind, content, media_url, duration_seconds, challenge_id, created_at"

// selectMessagesSQL is the history query for a scope. Table and column come
// from models.Scope, never from user input.
func selectMessagesSQL(scope models.Scope) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY created_at ASC",
		messageColumns,
		pgx.Identifier{scope.Table()}.Sanitize(),
		pgx.Identifier{scope.FilterColumn()}.Sanitize())
}

func insertMessageSQL(scope models.Scope) string {
	return fmt.Sprintf(`INSERT INTO %s (group_id, thread_id, author_id, kind, content, media_url, duration_seconds, challenge_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s`,
		pgx.Identifier{scope.Table()}.Sanitize(), messageColumns)
}

// FetchMessages returns the scope's history, oldest first.
func (s *Store) FetchMessages(ctx context.Context, scope models.Scope) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, selectMessagesSQL(scope), scope.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// InsertMessage persists msg and returns the stored row.
func (s *Store) InsertMessage(ctx context.Context, scope models.Scope, msg models.Message) (*models.Message, error) {
	msg.SetScope(scope)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, insertMessageSQL(scope),
		nullable(msg.GroupID), nullable(msg.ThreadID), msg.AuthorID, string(msg.Kind),
		msg.Content, msg.MediaURL, msg.DurationSeconds, msg.ChallengeID, msg.CreatedAt)
	stored, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return &stored, nil
}

// GetGroup retrieves a group by its ID.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	var cron *string
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, member_count, rotation_cron, created_at FROM groups WHERE id = $1", id).
		Scan(&g.ID, &g.Name, &g.MemberCount, &cron, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	g.RotationCron = deref(cron)
	return &g, nil
}

// GetSupportThread retrieves a support thread by its ID.
func (s *Store) GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error) {
	var t models.SupportThread
	err := s.pool.QueryRow(ctx,
		"SELECT id, user_id, created_at FROM support_threads WHERE id = $1", id).
		Scan(&t.ID, &t.UserID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListGroups retrieves all groups, newest first.
func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, member_count, rotation_cron, created_at FROM groups ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		var cron *string
		if err := rows.Scan(&g.ID, &g.Name, &g.MemberCount, &cron, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.RotationCron = deref(cron)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ActiveChallenge returns the most recently started challenge of a group, or nil.
func (s *Store) ActiveChallenge(ctx context.Context, groupID string, at time.Time) (*models.Challenge, error) {
	var c models.Challenge
	err := s.pool.QueryRow(ctx, `
		SELECT id, group_id, prompt, starts_at FROM challenges
		WHERE group_id = $1 AND starts_at <= $2
		ORDER BY starts_at DESC LIMIT 1`, groupID, at).
		Scan(&c.ID, &c.GroupID, &c.Prompt, &c.StartsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) AddMember(ctx context.Context, m models.Member) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO members (group_id, user_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		m.GroupID, m.UserID, m.JoinedAt)
	return err
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM members WHERE group_id = $1 AND user_id = $2", groupID, userID)
	return err
}

func (s *Store) CountMembers(ctx context.Context, groupID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM members WHERE group_id = $1", groupID).Scan(&n)
	return n, err
}

func (s *Store) UpdateMemberCount(ctx context.Context, groupID string, count int) error {
	_, err := s.pool.Exec(ctx, "UPDATE groups SET member_count = $1 WHERE id = $2", count, groupID)
	return err
}

const profileColumns = "id, display_name, avatar_url, spoken_languages, learning_languages, speaking_seconds, listening_seconds"

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, "SELECT "+profileColumns+" FROM users WHERE id = $1", userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT "+profileColumns+" FROM users WHERE id = ANY($1)", userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// AddSpeakingSeconds increments the counter in place.
func (s *Store) AddSpeakingSeconds(ctx context.Context, userID string, seconds float64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET speaking_seconds = speaking_seconds + $1 WHERE id = $2", seconds, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return nil
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	var groupID, threadID *string
	var kind string
	err := row.Scan(&m.ID, &groupID, &threadID, &m.AuthorID, &kind,
		&m.Content, &m.MediaURL, &m.DurationSeconds, &m.ChallengeID, &m.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	m.GroupID = deref(groupID)
	m.ThreadID = deref(threadID)
	m.Kind = models.MessageKind(kind)
	return m, nil
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var p models.Profile
	var name, avatar *string
	err := row.Scan(&p.ID, &name, &avatar, &p.SpokenLanguages, &p.LearningLanguages,
		&p.SpeakingSeconds, &p.ListeningSeconds)
	p.DisplayName = deref(name)
	p.AvatarURL = deref(avatar)
	return p, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
