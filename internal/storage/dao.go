package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// FetchRecord is one journaled resolution of an inbound /feed request
type FetchRecord struct {
	ID             int64         `json:"id"`
	RequestURL     string        `json:"request_url"`
	FinalURL       string        `json:"final_url"`
	Outcome        string        `json:"outcome"`
	UpstreamStatus int           `json:"upstream_status,omitempty"`
	ResponseStatus int           `json:"response_status"`
	Hops           int           `json:"hops"`
	BodyBytes      int           `json:"body_bytes"`
	Duration       time.Duration `json:"-"`
	DurationMs     int64         `json:"duration_ms"`
	Error          string        `json:"-"`
	FetchedAt      time.Time     `json:"fetched_at"`
}

// InsertFetch appends a record to the journal and sets its ID
func InsertFetch(db *sql.DB, rec *FetchRecord) error {
	query := `
	INSERT INTO fetches (request_url, final_url, outcome, upstream_status, response_status, hops, body_bytes, duration_ms, error, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	result, err := db.Exec(query,
		rec.RequestURL, rec.FinalURL, rec.Outcome, rec.UpstreamStatus, rec.ResponseStatus,
		rec.Hops, rec.BodyBytes, rec.Duration.Milliseconds(), errText, rec.FetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert fetch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get fetch id: %w", err)
	}
	rec.ID = id
	rec.DurationMs = rec.Duration.Milliseconds()
	return nil
}

// ListRecentFetches returns the newest journal records first
func ListRecentFetches(db *sql.DB, limit int) ([]*FetchRecord, error) {
	query := `SELECT id, request_url, final_url, outcome, upstream_status, response_status, hops, body_bytes, duration_ms, error, fetched_at
		FROM fetches
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?;`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetches: %w", err)
	}
	defer rows.Close()

	records := []*FetchRecord{}
	for rows.Next() {
		var r FetchRecord
		var errText sql.NullString
		var fetchedAt int64
		err := rows.Scan(&r.ID, &r.RequestURL, &r.FinalURL, &r.Outcome, &r.UpstreamStatus,
			&r.ResponseStatus, &r.Hops, &r.BodyBytes, &r.DurationMs, &errText, &fetchedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fetch: %w", err)
		}
		r.Error = errText.String
		r.Duration = time.Duration(r.DurationMs) * time.Millisecond
		r.FetchedAt = time.UnixMilli(fetchedAt).UTC()
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetches: %w", err)
	}

	return records, nil
}

// CountFetches returns the number of journal records
func CountFetches(db *sql.DB) (int, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM fetches;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count fetches: %w", err)
	}
	return count, nil
}

// DeleteExpiredFetches deletes records fetched before cutoff
func DeleteExpiredFetches(db *sql.DB, cutoff time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM fetches WHERE fetched_at < ?;`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired fetches: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}
