package params

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"gopkg.in/yaml.v3"
)

const pingTimeout = 5 * time.Second

// OpenPostgres opens a database handle through the pgx driver and verifies the
// connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// PostgresStore is a parameter store snapshot read from the parameters table:
//
//	CREATE TABLE parameters (
//	    preset text  NOT NULL,
//	    name   text  NOT NULL,
//	    value  jsonb NOT NULL,
//	    PRIMARY KEY (preset, name)
//	);
//
// Values are read once; later table changes do not affect a running plan.
type PostgresStore struct {
	preset string
	values Map
}

// Queryer is the subset of *sql.DB used by [LoadPostgres].
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadPostgres reads every parameter of preset. An empty preset means
// [DefaultPreset].
func LoadPostgres(ctx context.Context, db Queryer, preset string) (*PostgresStore, error) {
	if preset == "" {
		preset = DefaultPreset
	}

	rows, err := db.QueryContext(ctx, `SELECT name, value FROM parameters WHERE preset = $1`, preset)
	if err != nil {
		return nil, fmt.Errorf("query parameters: %w", err)
	}
	defer rows.Close()

	values, err := scanParameters(rows)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{preset: preset, values: values}, nil
}

// rowScanner is the subset of *sql.Rows read by [scanParameters].
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanParameters(rows rowScanner) (Map, error) {
	values := make(Map)
	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan parameter: %w", err)
		}
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		values[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	return values, nil
}

// decodeValue decodes a jsonb value. JSON is valid YAML, so decoding with the
// YAML decoder gives the same types as the file store: whole numbers become
// int, other numbers float64.
func decodeValue(raw []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// Get implements [Lookup].
func (s *PostgresStore) Get(key string) (any, bool) {
	return s.values.Get(key)
}

// Preset returns the preset the snapshot was read for.
func (s *PostgresStore) Preset() string { return s.preset }

// Len returns the number of parameters in the snapshot.
func (s *PostgresStore) Len() int { return len(s.values) }
