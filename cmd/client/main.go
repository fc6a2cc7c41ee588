package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/harrylevesque/controlx/internal/dispatch"
	"github.com/harrylevesque/controlx/internal/models"
)

// Default server base URL; can override with CONTROLX_SERVER env var or --server flag.
var serverBaseURL = "http://localhost:5000"

// paramFlag collects repeated -param name=value pairs. Values that parse as
// JSON keep their type, anything else is sent as a string.
type paramFlag map[string]any

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("want name=value, got %q", s)
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		v = raw
	}
	p[name] = v
	return nil
}

type request struct {
	Method   string
	Route    string
	User     string
	Password string
	Params   map[string]any
}

func main() {
	params := paramFlag{}
	method := flag.String("method", "GET", "HTTP method: GET, POST, PUT or DELETE")
	serverFlag := flag.String("server", "", "Override server base URL (e.g. https://host:5000)")
	user := flag.String("user", os.Getenv("CONTROLX_USER"), "Basic auth username (or CONTROLX_USER)")
	password := flag.String("password", os.Getenv("CONTROLX_PASSWORD"), "Basic auth password (or CONTROLX_PASSWORD)")
	timeout := flag.Duration("timeout", 0, "Give up after this long (0 waits for the command)")
	asJSON := flag.Bool("json", false, "Print the raw JSON response")
	flag.Var(params, "param", "Parameter as name=value (repeatable)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <route>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if env := os.Getenv("CONTROLX_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if *serverFlag != "" {
		serverBaseURL = strings.TrimRight(*serverFlag, "/")
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	req := request{
		Method:   *method,
		Route:    flag.Arg(0),
		User:     *user,
		Password: *password,
		Params:   params,
	}
	body, status, err := call(ctx, http.DefaultClient, serverBaseURL, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *asJSON {
		os.Stdout.Write(body)
		if status != http.StatusOK {
			os.Exit(1)
		}
		return
	}
	if err := printResult(os.Stdout, os.Stderr, body, status); err != nil {
		os.Exit(1)
	}
}

// call sends req to the server and returns the raw response body.
func call(ctx context.Context, client *http.Client, base string, req request) ([]byte, int, error) {
	method := models.NormalizeMethod(req.Method)
	if !models.ValidMethod(method) {
		return nil, 0, fmt.Errorf("unsupported method %q", req.Method)
	}
	route := strings.Trim(req.Route, "/ ")
	if route == "" {
		return nil, 0, errors.New("route is required")
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, 0, fmt.Errorf("encode parameters: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, base+"/api/"+route, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if req.User != "" {
		httpReq.SetBasicAuth(req.User, req.Password)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}

// printResult writes command output to stdout and any failure to stderr.
// It returns an error when the command did not run. Stderr from a command
// that ran is printed but not treated as a failure.
func printResult(stdout, stderr io.Writer, body []byte, status int) error {
	if status == http.StatusUnauthorized {
		msg := strings.TrimSpace(string(body))
		fmt.Fprintln(stderr, "Error:", msg)
		return errors.New(msg)
	}

	var res dispatch.Response
	if err := json.Unmarshal(body, &res); err != nil {
		fmt.Fprintf(stderr, "Error: server returned status %d: %s\n", status, strings.TrimSpace(string(body)))
		return fmt.Errorf("decode response: %w", err)
	}
	for _, line := range res.Output {
		fmt.Fprintln(stdout, line)
	}
	if res.Error != "" {
		fmt.Fprintln(stderr, strings.TrimRight(res.Error, "\n"))
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d: %s", status, res.Error)
	}
	// A body without a command means nothing ran.
	if res.Command == "" && res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}
