// Package storage is the SQLite persistence layer.
//
// Conventions:
//   - Timestamps are stored as INTEGER unix milliseconds (UTC).
//   - Calendar-day keys (stats tables) are TEXT "YYYY-MM-DD".
//   - Aggregate rows are upserted via ON CONFLICT so re-running an archive
//     for the same day converges instead of duplicating.
//   - user_events is append-only; nothing in this package updates or
//     deletes event rows.
package storage
