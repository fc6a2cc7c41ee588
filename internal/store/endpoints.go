package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harrylevesque/controlx/internal/models"
)

// EndpointStore is the endpoint registry.
type EndpointStore struct {
	db *sql.DB
}

const endpointColumns = `id, name, route, method, command, parameters, description, display`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*models.Endpoint, error) {
	var (
		ep          models.Endpoint
		params      sql.NullString
		description sql.NullString
		display     sql.NullInt64
	)
	if err := row.Scan(&ep.ID, &ep.Name, &ep.Route, &ep.Method, &ep.Command, &params, &description, &display); err != nil {
		return nil, err
	}
	ep.Parameters = models.DecodeParameters(params.String)
	ep.Description = description.String
	if display.Valid {
		slot := int(display.Int64)
		ep.Display = &slot
	}
	return &ep, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDisplay(d *int) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

// Lookup returns the endpoint bound to exactly route and method, or nil
// when there is none.
func (s *EndpointStore) Lookup(ctx context.Context, route, method string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM api_endpoints WHERE route = ? AND method = ?`, route, method)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup endpoint: %w", err)
	}
	return ep, nil
}

// Get returns the endpoint with the given id.
func (s *EndpointStore) Get(ctx context.Context, id int64) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM api_endpoints WHERE id = ?`, id)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("endpoint %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

// List returns every endpoint ordered by route then method.
func (s *EndpointStore) List(ctx context.Context) ([]*models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+endpointColumns+` FROM api_endpoints ORDER BY route, method`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Create normalizes, validates and inserts ep, filling in its ID.
func (s *EndpointStore) Create(ctx context.Context, ep *models.Endpoint) error {
	ep.Normalize()
	if err := ep.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_endpoints (name, route, method, command, parameters, description, display)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.Name, ep.Route, ep.Method, ep.Command,
		nullString(models.EncodeParameters(ep.Parameters)), nullString(ep.Description), nullDisplay(ep.Display))
	if isUniqueViolation(err) {
		return fmt.Errorf("endpoint %s %s: %w", ep.Method, ep.Route, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	ep.ID, err = res.LastInsertId()
	return err
}

// Update rewrites the stored endpoint with ep.ID.
func (s *EndpointStore) Update(ctx context.Context, ep *models.Endpoint) error {
	ep.Normalize()
	if err := ep.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_endpoints
		 SET name = ?, route = ?, method = ?, command = ?, parameters = ?, description = ?, display = ?
		 WHERE id = ?`,
		ep.Name, ep.Route, ep.Method, ep.Command,
		nullString(models.EncodeParameters(ep.Parameters)), nullString(ep.Description), nullDisplay(ep.Display), ep.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("endpoint %s %s: %w", ep.Method, ep.Route, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	return expectOneRow(res, "endpoint", ep.ID)
}

// Delete removes the endpoint with the given id.
func (s *EndpointStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_endpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return expectOneRow(res, "endpoint", id)
}

func expectOneRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
