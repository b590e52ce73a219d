package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GDPR request statuses.
const (
	GDPRStatusReceived  = "RECEIVED"
	GDPRStatusFulfilled = "FULFILLED"
)

// ModeDelete is the only supported erasure mode.
const ModeDelete = "delete"

// ErrRequestFulfilled is returned when fulfilling a request twice.
var ErrRequestFulfilled = errors.New("gdpr request already fulfilled")

// GDPRRequest is one right-to-erasure request.
type GDPRRequest struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	Mode        string    `json:"mode"`
	RequestedAt time.Time `json:"requested_at"`
	Status      string    `json:"status"`
	Details     string    `json:"details"`
}

const gdprColumns = `request_id, user_id, mode, requested_at, status, details`

// CreateGDPRRequest records a RECEIVED request and returns its identifier.
func (l *Ledger) CreateGDPRRequest(ctx context.Context, userID, mode string) (string, error) {
	if l.db == nil {
		return "", errNotOpened()
	}

	requestID := generateID()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO gdpr_requests (`+gdprColumns+`) VALUES (?, ?, ?, ?, ?, '')`,
		requestID, userID, mode, l.timestamp(), GDPRStatusReceived,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create gdpr request: %w", err)
	}

	l.logger.Debug("gdpr request received", "request_id", requestID, "mode", mode)
	return requestID, nil
}

// FulfillGDPRRequest transitions a RECEIVED request to FULFILLED exactly once.
func (l *Ledger) FulfillGDPRRequest(ctx context.Context, requestID, details string) error {
	if l.db == nil {
		return errNotOpened()
	}

	result, err := l.db.ExecContext(ctx,
		`UPDATE gdpr_requests SET status = ?, details = ? WHERE request_id = ? AND status = ?`,
		GDPRStatusFulfilled, details, requestID, GDPRStatusReceived,
	)
	if err != nil {
		return fmt.Errorf("failed to fulfill gdpr request: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		return nil
	}

	req, err := l.GetGDPRRequest(ctx, requestID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: request %s is %s", ErrRequestFulfilled, requestID, req.Status)
}

// GetGDPRRequest retrieves a request by ID.
func (l *Ledger) GetGDPRRequest(ctx context.Context, requestID string) (*GDPRRequest, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	row := l.db.QueryRowContext(ctx, `SELECT `+gdprColumns+` FROM gdpr_requests WHERE request_id = ?`, requestID)
	req, err := scanGDPRRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("gdpr request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gdpr request: %w", err)
	}
	return req, nil
}

// ListGDPRRequests returns requests newest first, optionally for one subject.
func (l *Ledger) ListGDPRRequests(ctx context.Context, userID string) ([]*GDPRRequest, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	query := `SELECT ` + gdprColumns + ` FROM gdpr_requests`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY requested_at DESC, request_id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gdpr requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*GDPRRequest
	for rows.Next() {
		req, err := scanGDPRRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gdpr request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func scanGDPRRequest(s rowScanner) (*GDPRRequest, error) {
	var req GDPRRequest
	var requestedAt string
	if err := s.Scan(&req.RequestID, &req.UserID, &req.Mode, &requestedAt, &req.Status, &req.Details); err != nil {
		return nil, err
	}
	req.RequestedAt = parseTime(requestedAt)
	return &req, nil
}

// CountGDPRRequestsByStatus returns the number of requests per status.
func (l *Ledger) CountGDPRRequestsByStatus(ctx context.Context) (map[string]int64, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM gdpr_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count gdpr requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan gdpr count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
