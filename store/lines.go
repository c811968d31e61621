package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ichao15/slwl/route"
)

const (
	LineTrunk   = "TRUNK_LINE"   // OLT <-> OLT
	LineBranch  = "BRANCH_LINE"  // TLT <-> OLT
	LineConnect = "CONNECT_LINE" // AGENCY <-> TLT
)

var (
	ErrInvalidLine   = errors.New("invalid transport line")
	ErrDuplicateLine = errors.New("transport line already exists")
)

// TransportLine joins two sites. Lines are usable in both directions.
type TransportLine struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	LineType        string          `json:"line_type"`
	StartSite       int64           `json:"start_site_id"`
	EndSite         int64           `json:"end_site_id"`
	Distance        float64         `json:"distance"`
	Cost            decimal.Decimal `json:"cost"`
	DurationSeconds int64           `json:"duration_seconds"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Edge converts the line for route selection.
func (l *TransportLine) Edge() route.Edge {
	return route.Edge{
		LineID:   l.ID,
		From:     l.StartSite,
		To:       l.EndSite,
		Distance: l.Distance,
		Cost:     l.Cost,
		Duration: time.Duration(l.DurationSeconds) * time.Second,
	}
}

// tiersFor returns the site types a line type may join, unordered.
func tiersFor(lineType string) (string, string, bool) {
	switch lineType {
	case LineTrunk:
		return SiteOLT, SiteOLT, true
	case LineBranch:
		return SiteTLT, SiteOLT, true
	case LineConnect:
		return SiteAgency, SiteTLT, true
	}
	return "", "", false
}

const lineSelectCols = `id, name, line_type, start_site_id, end_site_id, distance, cost, duration_seconds, created_at`

func scanLine(row interface{ Scan(...any) error }) (*TransportLine, error) {
	var l TransportLine
	var createdAt any
	if err := row.Scan(&l.ID, &l.Name, &l.LineType, &l.StartSite, &l.EndSite, &l.Distance, &l.Cost, &l.DurationSeconds, &createdAt); err != nil {
		return nil, err
	}
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

func scanLines(rows *sql.Rows) ([]*TransportLine, error) {
	var lines []*TransportLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CreateLine validates the tier pairing and rejects a second line between
// the same two sites in either direction.
func (db *DB) CreateLine(ctx context.Context, l *TransportLine) error {
	if l.StartSite == l.EndSite {
		return fmt.Errorf("%w: start and end site are both %d", ErrInvalidLine, l.StartSite)
	}
	if l.Cost.IsNegative() || l.Distance < 0 {
		return fmt.Errorf("%w: negative cost or distance", ErrInvalidLine)
	}
	a, b, ok := tiersFor(l.LineType)
	if !ok {
		return fmt.Errorf("%w: unknown line type %q", ErrInvalidLine, l.LineType)
	}
	start, err := db.GetSite(ctx, l.StartSite)
	if err != nil {
		return fmt.Errorf("create line: %w", err)
	}
	end, err := db.GetSite(ctx, l.EndSite)
	if err != nil {
		return fmt.Errorf("create line: %w", err)
	}
	if !(start.SiteType == a && end.SiteType == b) && !(start.SiteType == b && end.SiteType == a) {
		return fmt.Errorf("%w: %s cannot join %s and %s", ErrInvalidLine, l.LineType, start.SiteType, end.SiteType)
	}

	if existing, err := db.FindLine(ctx, l.StartSite, l.EndSite); err == nil {
		return fmt.Errorf("%w: line %d joins %d and %d", ErrDuplicateLine, existing.ID, l.StartSite, l.EndSite)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("create line: %w", err)
	}

	id, err := db.insertID(ctx, db.DB, `INSERT INTO transport_lines (name, line_type, start_site_id, end_site_id, distance, cost, duration_seconds) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.Name, l.LineType, l.StartSite, l.EndSite, l.Distance, l.Cost, l.DurationSeconds)
	if err != nil {
		return fmt.Errorf("create line: %w", err)
	}
	l.ID = id
	return nil
}

func (db *DB) DeleteLine(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, db.Q(`DELETE FROM transport_lines WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("line %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) GetLine(ctx context.Context, id int64) (*TransportLine, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_lines WHERE id=?`, lineSelectCols)), id)
	l, err := scanLine(row)
	if err != nil {
		return nil, notFound(err, "line", id)
	}
	return l, nil
}

// FindLine returns the line joining a and b in either direction.
func (db *DB) FindLine(ctx context.Context, a, b int64) (*TransportLine, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_lines
		WHERE (start_site_id=? AND end_site_id=?) OR (start_site_id=? AND end_site_id=?)
		ORDER BY id LIMIT 1`, lineSelectCols)), a, b, b, a)
	l, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("line between %d and %d: %w", a, b, ErrNotFound)
	}
	return l, err
}

func (db *DB) ListLines(ctx context.Context) ([]*TransportLine, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM transport_lines ORDER BY id`, lineSelectCols))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

// Edges implements route.Graph over every stored line.
func (db *DB) Edges(ctx context.Context) ([]route.Edge, error) {
	lines, err := db.ListLines(ctx)
	if err != nil {
		return nil, err
	}
	edges := make([]route.Edge, 0, len(lines))
	for _, l := range lines {
		edges = append(edges, l.Edge())
	}
	return edges, nil
}
