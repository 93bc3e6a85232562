package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"firefeed/internal/news"
	logx "firefeed/pkg/logx"
)

// fileStore keeps state in a Memory store and journals every mutation.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	*Memory

	log logx.Logger

	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type entryKind string

const (
	entryLedger      entryKind = "ledger"
	entryTranslation entryKind = "translation"
	entryFeed        entryKind = "feed"
	entryPreferences entryKind = "prefs"
	entryRemoveUser  entryKind = "remove_user"
)

type journalEntry struct {
	Kind          entryKind         `json:"k"`
	Ledger        *news.Record      `json:"ledger,omitempty"`
	ItemID        string            `json:"item_id,omitempty"`
	Language      string            `json:"lang,omitempty"`
	TranslationID int64             `json:"translation_id,omitempty"`
	FeedID        string            `json:"feed_id,omitempty"`
	Feed          *news.FeedLimits  `json:"feed,omitempty"`
	Preferences   *news.Preferences `json:"prefs,omitempty"`
	UserID        int64             `json:"user_id,omitempty"`
}

type snapshot struct {
	SavedAt      time.Time          `json:"saved_at"`
	Ledger       []news.Record      `json:"ledger"`
	Translations []journalEntry     `json:"translations"`
	Feeds        []journalEntry     `json:"feeds"`
	Preferences  []news.Preferences `json:"preferences"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := NewMemory()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal only", logx.Err(err))
	}
	n, err := replayJournal(journalPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay stopped early", logx.Err(err), logx.Int("applied", n))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		Memory:       mem,
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
	}
	mem.onChange = s.appendLocked
	log.Info("file store opened", logx.String("path", prefix), logx.Int("ledger", len(mem.ledger)), logx.Int("replayed", n))
	return s, nil
}

// appendLocked runs with Memory.mu held.
func (s *fileStore) appendLocked(e journalEntry) {
	if s.journal == nil {
		return
	}
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		s.log.Warn("journal append failed", logx.Err(err), logx.String("kind", string(e.Kind)))
		return
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("final compact failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{SavedAt: time.Now().UTC()}
	for _, r := range s.ledger {
		snap.Ledger = append(snap.Ledger, r)
	}
	for k, id := range s.translations {
		snap.Translations = append(snap.Translations, journalEntry{Kind: entryTranslation, ItemID: k.itemID, Language: k.language, TranslationID: id})
	}
	for id, l := range s.feeds {
		l := l
		snap.Feeds = append(snap.Feeds, journalEntry{Kind: entryFeed, FeedID: id, Feed: &l})
	}
	for _, p := range s.prefs {
		snap.Preferences = append(snap.Preferences, p)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, mem *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Ledger {
		mem.putRecordLocked(r)
	}
	for _, e := range snap.Translations {
		mem.putTranslationLocked(e.ItemID, e.Language, e.TranslationID)
	}
	for _, e := range snap.Feeds {
		if e.Feed != nil {
			mem.feeds[e.FeedID] = *e.Feed
		}
	}
	for _, p := range snap.Preferences {
		mem.prefs[p.UserID] = p
	}
	return nil
}

func replayJournal(path string, mem *Memory) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// torn tail write
			continue
		}
		switch e.Kind {
		case entryLedger:
			if e.Ledger != nil {
				mem.putRecordLocked(*e.Ledger)
			}
		case entryTranslation:
			mem.putTranslationLocked(e.ItemID, e.Language, e.TranslationID)
		case entryFeed:
			if e.Feed != nil {
				mem.feeds[e.FeedID] = *e.Feed
			}
		case entryPreferences:
			if e.Preferences != nil {
				mem.prefs[e.Preferences.UserID] = *e.Preferences
			}
		case entryRemoveUser:
			delete(mem.prefs, e.UserID)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
