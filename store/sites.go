package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Site tiers, from the outermost agency to the national hub.
const (
	SiteAgency = "AGENCY"
	SiteTLT    = "TLT" // second-tier transfer centre
	SiteOLT    = "OLT" // first-tier hub
)

type Site struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SiteType  string    `json:"site_type"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

var ErrInvalidSite = errors.New("invalid site")

func validSiteType(t string) bool {
	return t == SiteAgency || t == SiteTLT || t == SiteOLT
}

const siteSelectCols = `id, name, site_type, latitude, longitude, created_at`

func scanSite(row interface{ Scan(...any) error }) (*Site, error) {
	var s Site
	var createdAt any
	if err := row.Scan(&s.ID, &s.Name, &s.SiteType, &s.Latitude, &s.Longitude, &createdAt); err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func (db *DB) CreateSite(ctx context.Context, s *Site) error {
	if !validSiteType(s.SiteType) {
		return fmt.Errorf("create site: %w: unknown site type %q", ErrInvalidSite, s.SiteType)
	}
	id, err := db.insertID(ctx, db.DB, `INSERT INTO sites (name, site_type, latitude, longitude) VALUES (?, ?, ?, ?)`,
		s.Name, s.SiteType, s.Latitude, s.Longitude)
	if err != nil {
		return fmt.Errorf("create site: %w", err)
	}
	s.ID = id
	return nil
}

func (db *DB) GetSite(ctx context.Context, id int64) (*Site, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM sites WHERE id=?`, siteSelectCols)), id)
	s, err := scanSite(row)
	if err != nil {
		return nil, notFound(err, "site", id)
	}
	return s, nil
}

func (db *DB) ListSites(ctx context.Context) ([]*Site, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM sites ORDER BY id`, siteSelectCols))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSites(rows)
}

func scanSites(rows *sql.Rows) ([]*Site, error) {
	var sites []*Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}
