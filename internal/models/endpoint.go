package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Methods lists the HTTP verbs an endpoint may be bound to.
var Methods = []string{"GET", "POST", "PUT", "DELETE"}

// Endpoint is a stored mapping from a route and method to a command template.
type Endpoint struct {
	ID          int64    `json:"id" yaml:"-"`
	Name        string   `json:"name" yaml:"name"`
	Route       string   `json:"route" yaml:"route"`
	Method      string   `json:"method" yaml:"method"`
	Command     string   `json:"command" yaml:"command"`
	Parameters  []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Display     *int     `json:"display,omitempty" yaml:"display,omitempty"`
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("<Endpoint %q [%s %s]>", e.Name, e.Method, e.Route)
}

// Normalize rewrites Route and Method into their stored form.
func (e *Endpoint) Normalize() {
	e.Route = NormalizeRoute(e.Route)
	e.Method = NormalizeMethod(e.Method)
}

// Validate checks the fields the store requires.
func (e *Endpoint) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if strings.Trim(e.Route, "/ ") == "" {
		return fmt.Errorf("endpoint route is required")
	}
	if !ValidMethod(e.Method) {
		return fmt.Errorf("unsupported method %q (want one of %s)", e.Method, strings.Join(Methods, ", "))
	}
	if strings.TrimSpace(e.Command) == "" {
		return fmt.Errorf("endpoint command is required")
	}
	if e.Display != nil && *e.Display < 0 {
		return fmt.Errorf("display slot must not be negative")
	}
	return nil
}

// DisplayEnv returns the DISPLAY assignment for the endpoint's display slot,
// or "" when no slot is set.
func (e *Endpoint) DisplayEnv() string {
	if e.Display == nil {
		return ""
	}
	return fmt.Sprintf("DISPLAY=:%d", *e.Display)
}

// NormalizeRoute makes sure a route starts with a single leading slash.
func NormalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

// RoutePath turns a request path into the form routes are stored in by
// adding a leading slash when missing. Nothing else changes, so lookups stay
// exact.
func RoutePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// NormalizeMethod upper-cases a method, defaulting to GET when empty.
func NormalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return "GET"
	}
	return method
}

func ValidMethod(method string) bool {
	for _, m := range Methods {
		if m == method {
			return true
		}
	}
	return false
}

// EncodeParameters renders a parameter list the way it is persisted.
// An empty list is stored as "".
func EncodeParameters(params []string) string {
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeParameters parses a persisted parameter list. Blank or malformed
// values decode to an empty list.
func DecodeParameters(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var params []string
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil
	}
	return params
}
