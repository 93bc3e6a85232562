package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"firefeed/internal/news"
	logx "firefeed/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqliteStore) Close() error                   { return s.db.Close() }

func (s *sqliteStore) AlreadySent(ctx context.Context, key news.Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM published WHERE news_id = ? AND translation_id = ? AND recipient_type = ? AND recipient_id = ?`,
		key.ItemID, key.TranslationID, string(key.Kind), key.RecipientID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, rec news.Record) error {
	now := time.Now()
	if rec.SentAt.IsZero() {
		rec.SentAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO published(news_id, translation_id, recipient_type, recipient_id, feed_id, message_id, language, sent_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(news_id, translation_id, recipient_type, recipient_id) DO UPDATE SET
		   message_id = excluded.message_id,
		   language   = excluded.language,
		   feed_id    = CASE WHEN excluded.feed_id = '' THEN published.feed_id ELSE excluded.feed_id END,
		   sent_at    = excluded.sent_at,
		   updated_at = excluded.updated_at`,
		rec.ItemID, rec.TranslationID, string(rec.Kind), rec.RecipientID, rec.FeedID,
		rec.MessageID, rec.Language, rec.SentAt.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ChannelStats(ctx context.Context, feedID string, since time.Time) (news.ChannelStats, error) {
	var (
		count int
		last  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(DISTINCT news_id) FROM published
		     WHERE feed_id = ? AND recipient_type = 'channel' AND sent_at >= ?),
		   (SELECT MAX(sent_at) FROM published
		     WHERE feed_id = ? AND recipient_type = 'channel')`,
		feedID, since.UnixMilli(), feedID,
	).Scan(&count, &last)
	if err != nil {
		return news.ChannelStats{}, err
	}
	st := news.ChannelStats{Count: count}
	if last.Valid {
		st.LastSent = time.UnixMilli(last.Int64)
	}
	return st, nil
}

func (s *sqliteStore) FeedLimits(ctx context.Context, feedID string) (news.FeedLimits, bool, error) {
	var cooldown, perHour sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT cooldown_minutes, max_news_per_hour FROM feeds WHERE feed_id = ?`, feedID,
	).Scan(&cooldown, &perHour)
	if errors.Is(err, sql.ErrNoRows) {
		return news.FeedLimits{}, false, nil
	}
	if err != nil {
		return news.FeedLimits{}, false, err
	}
	l := news.DefaultFeedLimits()
	if cooldown.Valid {
		l.CooldownMinutes = int(cooldown.Int64)
	}
	if perHour.Valid {
		l.MaxPerHour = int(perHour.Int64)
	}
	return l, true, nil
}

func (s *sqliteStore) TranslationID(ctx context.Context, itemID, language string) (int64, bool, error) {
	if itemID == "" || language == "" {
		return 0, false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO news_translations(news_id, language) VALUES(?,?) ON CONFLICT(news_id, language) DO NOTHING`,
		itemID, language,
	); err != nil {
		return 0, false, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM news_translations WHERE news_id = ? AND language = ?`, itemID, language,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *sqliteStore) SubscribersFor(ctx context.Context, category string) ([]news.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, subscriptions, language FROM user_preferences ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []news.Subscriber
	for rows.Next() {
		var (
			p    news.Preferences
			subs string
		)
		if err := rows.Scan(&p.UserID, &subs, &p.Language); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(subs), &p.Subscriptions); err != nil {
			s.log.Warn("invalid subscriptions json", logx.Int64("user_id", p.UserID), logx.Err(err))
			continue
		}
		if !p.Matches(category) {
			continue
		}
		if p.Language == "" {
			p.Language = news.DefaultLanguage
		}
		out = append(out, news.Subscriber{UserID: p.UserID, Language: p.Language})
	}
	return out, rows.Err()
}

func (s *sqliteStore) RemoveSubscriber(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) Preferences(ctx context.Context, userID int64) (news.Preferences, bool, error) {
	p := news.Preferences{UserID: userID}
	var subs string
	err := s.db.QueryRowContext(ctx,
		`SELECT subscriptions, language FROM user_preferences WHERE user_id = ?`, userID,
	).Scan(&subs, &p.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return news.Preferences{}, false, nil
	}
	if err != nil {
		return news.Preferences{}, false, err
	}
	if err := json.Unmarshal([]byte(subs), &p.Subscriptions); err != nil {
		return news.Preferences{}, false, fmt.Errorf("user %d subscriptions: %w", userID, err)
	}
	return p, true, nil
}

func (s *sqliteStore) SavePreferences(ctx context.Context, p news.Preferences) error {
	subs := p.Subscriptions
	if subs == nil {
		subs = []string{}
	}
	b, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_preferences(user_id, subscriptions, language) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET subscriptions = excluded.subscriptions, language = excluded.language`,
		p.UserID, string(b), p.Language,
	)
	return err
}
