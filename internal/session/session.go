// Package session keeps short-lived per-user state: language, current menu and
// workflow step. It caches the durable preference store and is never the
// source of truth for anything delivery depends on.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"firefeed/internal/news"
	"firefeed/internal/storage"
	logx "firefeed/pkg/logx"
)

const DefaultTTL = 24 * time.Hour

// Entry is the cached state of one user.
type Entry struct {
	Language   string
	Menu       string
	State      string
	LastAccess time.Time
}

// Backend stores entries. Get refreshes the last access of a hit.
type Backend interface {
	Get(ctx context.Context, userID int64) (Entry, bool, error)
	// Update applies fn to the entry (zero value when absent) and stores the result.
	Update(ctx context.Context, userID int64, fn func(e *Entry)) error
	Delete(ctx context.Context, userID int64) error
	// Sweep drops entries idle longer than the TTL and returns how many went.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// Store fronts a Backend with the durable preference store.
type Store struct {
	b     Backend
	prefs storage.PreferenceStore
	log   logx.Logger
}

func New(b Backend, prefs storage.PreferenceStore, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{b: b, prefs: prefs, log: log.With(logx.String("comp", "session"))}
}

// Language resolves a user's language: cache, then durable store, then "en".
func (s *Store) Language(ctx context.Context, userID int64) (string, error) {
	if e, ok, err := s.b.Get(ctx, userID); err != nil {
		s.log.Warn("session read failed", logx.Int64("user_id", userID), logx.Err(err))
	} else if ok && e.Language != "" {
		return e.Language, nil
	}

	lang := news.DefaultLanguage
	if s.prefs != nil {
		p, ok, err := s.prefs.Preferences(ctx, userID)
		if err != nil {
			return lang, fmt.Errorf("load preferences %d: %w", userID, err)
		}
		if ok && p.Language != "" {
			lang = p.Language
			if err := s.b.Update(ctx, userID, func(e *Entry) { e.Language = lang }); err != nil {
				s.log.Warn("session write failed", logx.Int64("user_id", userID), logx.Err(err))
			}
		}
	}
	return lang, nil
}

// SetLanguage writes the durable preference first, then the cache.
func (s *Store) SetLanguage(ctx context.Context, userID int64, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return errors.New("empty language")
	}
	if s.prefs != nil {
		p, ok, err := s.prefs.Preferences(ctx, userID)
		if err != nil {
			return fmt.Errorf("load preferences %d: %w", userID, err)
		}
		if !ok {
			p = news.Preferences{UserID: userID}
		}
		p.Language = lang
		if err := s.prefs.SavePreferences(ctx, p); err != nil {
			return fmt.Errorf("save preferences %d: %w", userID, err)
		}
	}
	return s.b.Update(ctx, userID, func(e *Entry) { e.Language = lang })
}

// Menu returns the menu the user last opened.
func (s *Store) Menu(ctx context.Context, userID int64) (string, error) {
	e, _, err := s.b.Get(ctx, userID)
	return e.Menu, err
}

func (s *Store) SetMenu(ctx context.Context, userID int64, menu string) error {
	return s.b.Update(ctx, userID, func(e *Entry) { e.Menu = menu })
}

// State returns the current workflow step, "" when idle.
func (s *Store) State(ctx context.Context, userID int64) (string, error) {
	e, _, err := s.b.Get(ctx, userID)
	return e.State, err
}

func (s *Store) SetState(ctx context.Context, userID int64, state string) error {
	return s.b.Update(ctx, userID, func(e *Entry) { e.State = state })
}

// Forget drops everything cached for userID.
func (s *Store) Forget(ctx context.Context, userID int64) error {
	return s.b.Delete(ctx, userID)
}

// Sweep removes idle entries.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return s.b.Sweep(ctx)
}

func (s *Store) Close() error { return s.b.Close() }
