package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"firefeed/internal/news"
	logx "firefeed/pkg/logx"
)

// postgresStore reads and writes the shared production schema:
//
//	rss_items_telegram_bot_published(news_id, translation_id, recipient_type, recipient_id, message_id, language, sent_at, updated_at)
//	published_news_data(news_id, rss_feed_id, category_id, original_*, source_url, image_filename, created_at)
//	news_translations(id, news_id, language, translated_title, translated_content)
//	rss_feeds(id, source_id, cooldown_minutes, max_news_per_hour)
//	user_preferences(user_id, subscriptions, language)
//
// A null translation_id marks an original-language delivery.
type postgresStore struct {
	db  *pgxpool.Pool
	log logx.Logger
	sb  sq.StatementBuilderType
}

const publishedTable = "rss_items_telegram_bot_published"

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Info("postgres store opened", logx.Int("max_conns", int(pcfg.MaxConns)))
	return &postgresStore{db: pool, log: log, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}, nil
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *postgresStore) Close() error {
	s.db.Close()
	return nil
}

func nullableTranslation(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func (s *postgresStore) AlreadySent(ctx context.Context, key news.Key) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+publishedTable+`
		    WHERE news_id = $1 AND translation_id IS NOT DISTINCT FROM $2::bigint
		      AND recipient_type = $3 AND recipient_id = $4)`,
		key.ItemID, nullableTranslation(key.TranslationID), string(key.Kind), key.RecipientID,
	).Scan(&exists)
	return exists, err
}

// MarkSent updates first so null translation ids (which never conflict in a unique index) still upsert.
func (s *postgresStore) MarkSent(ctx context.Context, rec news.Record) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE `+publishedTable+`
			    SET message_id = $1, language = $2, sent_at = NOW(), updated_at = NOW()
			  WHERE news_id = $3 AND translation_id IS NOT DISTINCT FROM $4::bigint
			    AND recipient_type = $5 AND recipient_id = $6`,
			rec.MessageID, rec.Language, rec.ItemID, nullableTranslation(rec.TranslationID), string(rec.Kind), rec.RecipientID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO `+publishedTable+`
			   (news_id, translation_id, recipient_type, recipient_id, message_id, language, sent_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
			rec.ItemID, nullableTranslation(rec.TranslationID), string(rec.Kind), rec.RecipientID, rec.MessageID, rec.Language,
		)
		return err
	})
}

func (s *postgresStore) ChannelStats(ctx context.Context, feedID string, since time.Time) (news.ChannelStats, error) {
	fid, err := strconv.ParseInt(feedID, 10, 64)
	if err != nil {
		// Items without a numeric feed are not tracked per feed in the shared schema.
		return news.ChannelStats{}, nil
	}
	q, args, err := s.sb.
		Select().
		Column(sq.Expr("COUNT(DISTINCT rbp.news_id) FILTER (WHERE rbp.sent_at >= ?)", since.UTC())).
		Column("MAX(rbp.sent_at)").
		From(publishedTable + " rbp").
		Join("published_news_data pnd ON rbp.news_id = pnd.news_id").
		Where(sq.Eq{"pnd.rss_feed_id": fid, "rbp.recipient_type": string(news.RecipientChannel)}).
		ToSql()
	if err != nil {
		return news.ChannelStats{}, err
	}
	var (
		count int
		last  *time.Time
	)
	if err := s.db.QueryRow(ctx, q, args...).Scan(&count, &last); err != nil {
		return news.ChannelStats{}, err
	}
	st := news.ChannelStats{Count: count}
	if last != nil {
		st.LastSent = *last
	}
	return st, nil
}

func (s *postgresStore) FeedLimits(ctx context.Context, feedID string) (news.FeedLimits, bool, error) {
	fid, err := strconv.ParseInt(feedID, 10, 64)
	if err != nil {
		return news.FeedLimits{}, false, nil
	}
	var l news.FeedLimits
	err = s.db.QueryRow(ctx,
		`SELECT COALESCE(cooldown_minutes, $2), COALESCE(max_news_per_hour, $3) FROM rss_feeds WHERE id = $1`,
		fid, news.DefaultCooldownMinutes, news.DefaultMaxPerHour,
	).Scan(&l.CooldownMinutes, &l.MaxPerHour)
	if errors.Is(err, pgx.ErrNoRows) {
		return news.FeedLimits{}, false, nil
	}
	if err != nil {
		return news.FeedLimits{}, false, err
	}
	return l, true, nil
}

func (s *postgresStore) TranslationID(ctx context.Context, itemID, language string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM news_translations WHERE news_id = $1 AND language = $2`, itemID, language,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// SubscribersFor narrows with a text match before decoding, then checks membership exactly.
func (s *postgresStore) SubscribersFor(ctx context.Context, category string) ([]news.Subscriber, error) {
	q, args, err := s.sb.
		Select("user_id", "subscriptions", "COALESCE(language, '')").
		From("user_preferences").
		Where(sq.Or{
			sq.Like{"subscriptions": `%"` + news.AllCategories + `"%`},
			sq.Like{"subscriptions": `%"` + category + `"%`},
		}).
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []news.Subscriber
	for rows.Next() {
		var (
			p    news.Preferences
			subs *string
		)
		if err := rows.Scan(&p.UserID, &subs, &p.Language); err != nil {
			return nil, err
		}
		if subs == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*subs), &p.Subscriptions); err != nil {
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

func (s *postgresStore) RemoveSubscriber(ctx context.Context, userID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID)
	return err
}

func (s *postgresStore) Preferences(ctx context.Context, userID int64) (news.Preferences, bool, error) {
	p := news.Preferences{UserID: userID}
	var subs, lang *string
	err := s.db.QueryRow(ctx,
		`SELECT subscriptions, language FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&subs, &lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return news.Preferences{}, false, nil
	}
	if err != nil {
		return news.Preferences{}, false, err
	}
	if lang != nil {
		p.Language = *lang
	}
	if subs != nil && *subs != "" {
		if err := json.Unmarshal([]byte(*subs), &p.Subscriptions); err != nil {
			return news.Preferences{}, false, fmt.Errorf("user %d subscriptions: %w", userID, err)
		}
	}
	return p, true, nil
}

func (s *postgresStore) SavePreferences(ctx context.Context, p news.Preferences) error {
	subs := p.Subscriptions
	if subs == nil {
		subs = []string{}
	}
	b, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE user_preferences SET subscriptions = $1, language = $2 WHERE user_id = $3`,
			string(b), p.Language, p.UserID,
		)
		if err != nil || tag.RowsAffected() > 0 {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO user_preferences (user_id, subscriptions, language) VALUES ($1, $2, $3)`,
			p.UserID, string(b), p.Language,
		)
		return err
	})
}

// ListUndelivered reads items straight from published_news_data.
func (s *postgresStore) ListUndelivered(ctx context.Context, f news.ItemFilter) ([]news.PreparedItem, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	b := s.sb.
		Select(
			"nd.news_id", "nd.original_title", "COALESCE(nd.original_content, '')", "nd.original_language",
			"COALESCE(c.name, '')", "COALESCE(s.name, '')", "COALESCE(nd.source_url, '')",
			"COALESCE(nd.image_filename, '')", "COALESCE(nd.rss_feed_id::text, '')", "nd.created_at",
		).
		From("published_news_data nd").
		LeftJoin("rss_feeds rf ON nd.rss_feed_id = rf.id").
		LeftJoin("categories c ON nd.category_id = c.id").
		LeftJoin("sources s ON rf.source_id = s.id").
		OrderBy("nd.created_at DESC").
		Limit(uint64(limit))
	if !f.UsersPublished {
		b = b.Where(`NOT EXISTS (SELECT 1 FROM ` + publishedTable + ` p WHERE p.news_id = nd.news_id AND p.recipient_type = 'user')`)
	}
	if f.OriginalLanguage != "" {
		b = b.Where(sq.Eq{"nd.original_language": f.OriginalLanguage})
	}
	if !f.FromDate.IsZero() {
		b = b.Where(sq.GtOrEq{"nd.created_at": f.FromDate.UTC()})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var (
		items []news.PreparedItem
		ids   []string
	)
	for rows.Next() {
		var it news.PreparedItem
		if err := rows.Scan(&it.ID, &it.OriginalTitle, &it.OriginalContent, &it.OriginalLanguage,
			&it.Category, &it.SourceName, &it.SourceURL, &it.ImageRef, &it.SourceFeedID, &it.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, it)
		ids = append(ids, it.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	tr, err := s.translationsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Translations = tr[items[i].ID]
	}
	return items, nil
}

func (s *postgresStore) translationsFor(ctx context.Context, ids []string) (map[string]map[string]news.Translation, error) {
	q, args, err := s.sb.
		Select("news_id", "language", "COALESCE(translated_title, '')", "COALESCE(translated_content, '')").
		From("news_translations").
		Where(sq.Eq{"news_id": ids}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]news.Translation, len(ids))
	for rows.Next() {
		var (
			id, lang string
			t        news.Translation
		)
		if err := rows.Scan(&id, &lang, &t.Title, &t.Content); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = map[string]news.Translation{}
		}
		out[id][lang] = t
	}
	return out, rows.Err()
}
