package store

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harrylevesque/controlx/internal/models"
)

// seedFile is the on-disk layout for endpoint import and export.
type seedFile struct {
	Endpoints []seedEndpoint `yaml:"endpoints"`
}

type seedEndpoint struct {
	Name        string   `yaml:"name"`
	Route       string   `yaml:"route"`
	Method      string   `yaml:"method,omitempty"`
	Command     string   `yaml:"command"`
	Parameters  []string `yaml:"parameters,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Display     string   `yaml:"display,omitempty"`
}

func (s seedEndpoint) endpoint() *models.Endpoint {
	ep := &models.Endpoint{
		Name:        strings.TrimSpace(s.Name),
		Route:       strings.TrimSpace(s.Route),
		Method:      s.Method,
		Command:     strings.TrimSpace(s.Command),
		Parameters:  s.Parameters,
		Description: strings.TrimSpace(s.Description),
	}
	if d := strings.TrimSpace(s.Display); d != "" && isDigits(d) {
		slot, err := strconv.Atoi(d)
		if err == nil {
			ep.Display = &slot
		}
	}
	ep.Normalize()
	return ep
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ImportResult counts what an import did.
type ImportResult struct {
	Imported int
	Skipped  int
}

// ImportYAML reads endpoints from r and inserts them in one transaction.
// An entry is skipped when an endpoint with the same name or the same route
// already exists, including ones inserted earlier in the same import.
func (s *EndpointStore) ImportYAML(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return res, fmt.Errorf("decode endpoints: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for i, entry := range file.Endpoints {
		ep := entry.endpoint()
		if err := ep.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("endpoint #%d: %w", i+1, err)
		}

		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM api_endpoints WHERE name = ? OR route = ?`, ep.Name, ep.Route).Scan(&n); err != nil {
			return ImportResult{}, fmt.Errorf("check duplicates: %w", err)
		}
		if n > 0 {
			res.Skipped++
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO api_endpoints (name, route, method, command, parameters, description, display)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ep.Name, ep.Route, ep.Method, ep.Command,
			nullString(models.EncodeParameters(ep.Parameters)), nullString(ep.Description), nullDisplay(ep.Display)); err != nil {
			return ImportResult{}, fmt.Errorf("insert endpoint #%d: %w", i+1, err)
		}
		res.Imported++
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("commit import: %w", err)
	}
	return res, nil
}

// ExportYAML writes every endpoint to w in the format ImportYAML reads.
func (s *EndpointStore) ExportYAML(ctx context.Context, w io.Writer) error {
	eps, err := s.List(ctx)
	if err != nil {
		return err
	}

	file := seedFile{Endpoints: make([]seedEndpoint, 0, len(eps))}
	for _, ep := range eps {
		entry := seedEndpoint{
			Name:        ep.Name,
			Route:       ep.Route,
			Method:      ep.Method,
			Command:     ep.Command,
			Parameters:  ep.Parameters,
			Description: ep.Description,
		}
		if ep.Display != nil {
			entry.Display = strconv.Itoa(*ep.Display)
		}
		file.Endpoints = append(file.Endpoints, entry)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	return enc.Close()
}
