// Package storage implements the publication ledger and the directories the
// delivery pipeline reads from (feed limits, translations, subscribers,
// user preferences).
//
// Drivers: "memory", "file" (JSONL journal + snapshot), "sqlite" and "postgres".
package storage
