// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jcodagnone/geofoto/photo"
	"github.com/jcodagnone/geofoto/spatial"
	"github.com/jcodagnone/geofoto/utils/textutils"
	"github.com/uber/h3-go/v4"
)

// H3 resolutions stored for every geocoded point: city (~250 km2),
// neighborhood (~5 km2) and block (~0.1 km2).
var cellResolutions = []int{5, 7, 9}

// ErrUnsupportedResolution is returned by CellCounts for a resolution that is
// not stored.
var ErrUnsupportedResolution = errors.New("unsupported h3 resolution, use 5, 7 or 9")

const metersPerDegree = 111_320.0

// Record is a processed photo as stored in the history.
type Record struct {
	ID                int64                `json:"id"`
	FileID            string               `json:"file_id"`
	OriginalFilename  string               `json:"original_filename"`
	Status            photo.Status         `json:"status"`
	BuildingsDetected int                  `json:"buildings_detected"`
	BuildingsGeocoded int                  `json:"buildings_geocoded"`
	Coordinates       *spatial.Coordinates `json:"coordinates"`
	Address           string               `json:"address,omitempty"`
	Error             string               `json:"error,omitempty"`
	Message           string               `json:"message,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// BuildingRecord is a geocoded building found near a point.
type BuildingRecord struct {
	PhotoID          int64               `json:"photo_id"`
	FileID           string              `json:"file_id"`
	OriginalFilename string              `json:"original_filename"`
	Index            int                 `json:"index"`
	Confidence       float64             `json:"confidence"`
	Area             float64             `json:"area"`
	Coordinates      spatial.Coordinates `json:"coordinates"`
	Address          string              `json:"address,omitempty"`
	Distance         float64             `json:"distance"`
}

// CellCount is the number of geocoded buildings inside an H3 cell.
type CellCount struct {
	Cell      string              `json:"cell"`
	Center    spatial.Coordinates `json:"center"`
	Buildings int                 `json:"buildings"`
}

// ResultRepository handles persistence of processed photos.
type ResultRepository interface {
	// CreateSchema creates the photos and buildings tables
	CreateSchema() error

	// SaveResult stores a completed or failed photo with its buildings.
	// Unrecognized results are skipped and yield a nil record.
	SaveResult(r photo.Result) (*Record, error)

	// ListResults returns the most recent photos whose file name or address
	// matches filter, ignoring case and accents
	ListResults(filter string, limit int) ([]*Record, error)

	// Near returns the geocoded buildings within radius meters of point, closest first
	Near(point *spatial.Coordinates, radius float64, limit int) ([]*BuildingRecord, error)

	// CellCounts groups the geocoded buildings by H3 cell
	CellCounts(resolution int) ([]*CellCount, error)

	// CountResults returns the total number of photos
	CountResults() (int, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlResultRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewResultRepository creates a history repository on top of a duckdb connection.
func NewResultRepository(db *sql.DB) ResultRepository {
	return &sqlResultRepository{db: db, now: time.Now}
}

func (r *sqlResultRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlResultRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS photos_seq START 1;

		CREATE TABLE IF NOT EXISTS photos (
			id INTEGER PRIMARY KEY DEFAULT nextval('photos_seq'),
			file_id VARCHAR NOT NULL,
			original_filename VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			buildings_detected INTEGER NOT NULL,
			error VARCHAR,
			message VARCHAR,
			latitude DOUBLE,
			longitude DOUBLE,
			address VARCHAR,
			created_at TIMESTAMP NOT NULL,
			h3_res5 UBIGINT,
			h3_res7 UBIGINT,
			h3_res9 UBIGINT
		);

		CREATE TABLE IF NOT EXISTS buildings (
			photo_id INTEGER NOT NULL,
			building_index INTEGER NOT NULL,
			confidence DOUBLE NOT NULL,
			area DOUBLE NOT NULL,
			center_x DOUBLE NOT NULL,
			center_y DOUBLE NOT NULL,
			latitude DOUBLE,
			longitude DOUBLE,
			address VARCHAR,
			geocoding_error VARCHAR,
			h3_res5 UBIGINT,
			h3_res7 UBIGINT,
			h3_res9 UBIGINT,
			PRIMARY KEY (photo_id, building_index)
		);
	`)

	return err
}

// cellArgs returns the H3 cells of c at every stored resolution, or NULLs.
func cellArgs(c *spatial.Coordinates) ([]any, error) {
	args := make([]any, len(cellResolutions))
	if c == nil {
		return args, nil
	}

	cells, err := c.Cells(cellResolutions...)
	if err != nil {
		return nil, err
	}

	for i, cell := range cells {
		args[i] = cell
	}

	return args, nil
}

func coordinateArgs(c *spatial.Coordinates) []any {
	if c == nil {
		return []any{nil, nil}
	}

	return []any{c.Latitude, c.Longitude}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func (r *sqlResultRepository) SaveResult(result photo.Result) (*Record, error) {
	var data photo.UploadData

	switch result := result.(type) {
	case *photo.Completed:
		data = result.Data
	case *photo.DetectionFailed:
		data = result.Data
	default:
		return nil, nil
	}

	record := &Record{
		FileID:            data.FileID,
		OriginalFilename:  data.OriginalFilename,
		Status:            data.Status,
		BuildingsDetected: data.BuildingsDetected,
		Coordinates:       data.Coordinates,
		Address:           data.Address.String(),
		Error:             data.Error,
		Message:           data.Message,
		CreatedAt:         r.now().UTC(),
	}

	cells, err := cellArgs(record.Coordinates)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}

	args := []any{
		record.FileID,
		record.OriginalFilename,
		string(record.Status),
		record.BuildingsDetected,
		nullable(record.Error),
		nullable(record.Message),
	}
	args = append(args, coordinateArgs(record.Coordinates)...)
	args = append(args, nullable(record.Address), record.CreatedAt)
	args = append(args, cells...)

	err = tx.QueryRow(`
		INSERT INTO photos(
			file_id,
			original_filename,
			status,
			buildings_detected,
			error,
			message,
			latitude,
			longitude,
			address,
			created_at,
			h3_res5,
			h3_res7,
			h3_res9
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, args...).Scan(&record.ID)
	if err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}

	if record.BuildingsGeocoded, err = insertBuildings(tx, record.ID, &data); err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing %s: %w", record.FileID, err)
	}

	return record, nil
}

func insertBuildings(tx *sql.Tx, photoID int64, data *photo.UploadData) (int, error) {
	if len(data.Buildings) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO buildings(
			photo_id,
			building_index,
			confidence,
			area,
			center_x,
			center_y,
			latitude,
			longitude,
			address,
			geocoding_error,
			h3_res5,
			h3_res7,
			h3_res9
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	geocoded := 0

	for i := range data.Buildings {
		b := &data.Buildings[i]

		cells, err := cellArgs(b.Coordinates)
		if err != nil {
			return 0, fmt.Errorf("building %d: %w", i, err)
		}

		if b.Coordinates != nil {
			geocoded++
		}

		args := []any{photoID, i, b.Confidence, b.Area, b.Center.X, b.Center.Y}
		args = append(args, coordinateArgs(b.Coordinates)...)
		args = append(args, nullable(b.Address.String()), nullable(b.GeocodingError))
		args = append(args, cells...)

		if _, err := stmt.Exec(args...); err != nil {
			return 0, fmt.Errorf("inserting building %d: %w", i, err)
		}
	}

	return geocoded, nil
}

func (r *sqlResultRepository) ListResults(filter string, limit int) ([]*Record, error) {
	rows, err := r.db.Query(`
		SELECT
			p.id,
			p.file_id,
			p.original_filename,
			p.status,
			p.buildings_detected,
			(SELECT count(*) FROM buildings b WHERE b.photo_id = p.id AND b.latitude IS NOT NULL),
			p.error,
			p.message,
			p.latitude,
			p.longitude,
			p.address,
			p.created_at
		FROM photos p
		ORDER BY p.created_at DESC, p.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {
		var (
			rec         Record
			status      string
			errMsg, msg sql.NullString
			address     sql.NullString
			lat, lng    sql.NullFloat64
		)

		if err := rows.Scan(
			&rec.ID,
			&rec.FileID,
			&rec.OriginalFilename,
			&status,
			&rec.BuildingsDetected,
			&rec.BuildingsGeocoded,
			&errMsg,
			&msg,
			&lat,
			&lng,
			&address,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		rec.Status = photo.Status(status)
		rec.Error = errMsg.String
		rec.Message = msg.String
		rec.Address = address.String

		if lat.Valid && lng.Valid {
			rec.Coordinates = &spatial.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
		}

		if !textutils.ContainsFolded(filter, rec.OriginalFilename, rec.FileID, rec.Address) {
			continue
		}

		records = append(records, &rec)
		if limit > 0 && len(records) == limit {
			break
		}
	}

	return records, rows.Err()
}

// longitudeRange matches b.longitude within dLng degrees of lng, wrapping
// around the antimeridian.
func longitudeRange(lng, dLng float64) (string, []any) {
	lo, hi := lng-dLng, lng+dLng

	switch {
	case dLng >= 180:
		return "TRUE", nil
	case lo < -180:
		return "(b.longitude >= ? OR b.longitude <= ?)", []any{lo + 360, hi}
	case hi > 180:
		return "(b.longitude >= ? OR b.longitude <= ?)", []any{lo, hi - 360}
	default:
		return "b.longitude BETWEEN ? AND ?", []any{lo, hi}
	}
}

func (r *sqlResultRepository) Near(point *spatial.Coordinates, radius float64, limit int) ([]*BuildingRecord, error) {
	// Bounding box prefilter, refined with the haversine distance.
	dLat := radius / metersPerDegree
	dLng := 180.0
	if cos := math.Cos(point.Latitude * math.Pi / 180); cos > 1e-9 {
		dLng = math.Min(dLat/cos, 180)
	}

	lngPredicate, args := longitudeRange(point.Longitude, dLng)
	args = append([]any{point.Latitude - dLat, point.Latitude + dLat}, args...)

	rows, err := r.db.Query(`
		SELECT
			b.photo_id,
			p.file_id,
			p.original_filename,
			b.building_index,
			b.confidence,
			b.area,
			b.latitude,
			b.longitude,
			b.address
		FROM buildings b
		JOIN photos p ON p.id = b.photo_id
		WHERE b.latitude BETWEEN ? AND ?
		  AND `+lngPredicate, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*BuildingRecord

	for rows.Next() {
		var (
			m       BuildingRecord
			address sql.NullString
		)

		if err := rows.Scan(
			&m.PhotoID,
			&m.FileID,
			&m.OriginalFilename,
			&m.Index,
			&m.Confidence,
			&m.Area,
			&m.Coordinates.Latitude,
			&m.Coordinates.Longitude,
			&address,
		); err != nil {
			return nil, err
		}

		m.Address = address.String

		m.Distance = point.HaversineDistance(&m.Coordinates)
		if m.Distance <= radius {
			matches = append(matches, &m)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

func (r *sqlResultRepository) CellCounts(resolution int) ([]*CellCount, error) {
	var column string

	switch resolution {
	case 5:
		column = "h3_res5"
	case 7:
		column = "h3_res7"
	case 9:
		column = "h3_res9"
	default:
		return nil, ErrUnsupportedResolution
	}

	// #nosec G201 - column comes from the switch above
	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT %[1]s, count(*)
		FROM buildings
		WHERE %[1]s IS NOT NULL
		GROUP BY %[1]s
		ORDER BY count(*) DESC, %[1]s
	`, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*CellCount

	for rows.Next() {
		var (
			cell  uint64
			count CellCount
		)

		if err := rows.Scan(&cell, &count.Buildings); err != nil {
			return nil, err
		}

		h3Cell := h3.Cell(cell)
		count.Cell = h3Cell.String()

		latLng, err := h3.CellToLatLng(h3Cell)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", count.Cell, err)
		}

		count.Center = spatial.Coordinates{Latitude: latLng.Lat, Longitude: latLng.Lng}
		counts = append(counts, &count)
	}

	return counts, rows.Err()
}

func (r *sqlResultRepository) CountResults() (int, error) {
	var count int

	err := r.db.QueryRow("SELECT count(*) FROM photos").Scan(&count)

	return count, err
}
