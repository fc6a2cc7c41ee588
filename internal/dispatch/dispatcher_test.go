package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/controlx/internal/models"
)

type fakeRegistry map[string]*models.Endpoint

func (f fakeRegistry) Lookup(_ context.Context, route, method string) (*models.Endpoint, error) {
	return f[method+" "+route], nil
}

type failingRegistry struct{}

func (failingRegistry) Lookup(context.Context, string, string) (*models.Endpoint, error) {
	return nil, errors.New("database is locked")
}

type spyExecutor struct {
	mu    sync.Mutex
	calls []Invocation
	out   Output
	err   error
}

func (s *spyExecutor) Execute(_ context.Context, inv Invocation) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, inv)
	return s.out, s.err
}

func echoEndpoint() *models.Endpoint {
	return &models.Endpoint{Name: "echo", Route: "/echo", Method: "GET", Command: "echo {msg}"}
}

func TestDispatchEcho(t *testing.T) {
	reg := fakeRegistry{"GET /echo": echoEndpoint()}
	d := New(reg, &ProcessExecutor{})

	res, err := d.Dispatch(context.Background(), "/echo", "GET", map[string]any{"msg": "hello world"})
	require.NoError(t, err)
	require.Equal(t, KindOK, res.Kind, "err: %v", res.Err)
	assert.Equal(t, "echo 'hello world'", res.Command)
	assert.Equal(t, []string{"hello world"}, res.Output)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, Response{Command: "echo 'hello world'", Output: []string{"hello world"}, Error: ""}, res.Payload())
}

func TestDispatchMissingParameterDoesNotSpawn(t *testing.T) {
	spy := &spyExecutor{}
	d := New(fakeRegistry{"GET /echo": echoEndpoint()}, spy)

	res, err := d.Dispatch(context.Background(), "/echo", "GET", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, KindMissingParameter, res.Kind)
	assert.Equal(t, ErrorResponse{Error: "Missing parameter: msg"}, res.Payload())
	assert.Empty(t, spy.calls)
}

func TestDispatchForbiddenCharactersDoNotSpawn(t *testing.T) {
	spy := &spyExecutor{}
	reg := fakeRegistry{
		"GET /x":    {Name: "x", Route: "/x", Method: "GET", Command: "echo {v}"},
		"GET /pipe": {Name: "pipe", Route: "/pipe", Method: "GET", Command: "ps aux | grep {p}"},
	}
	d := New(reg, spy)

	res, err := d.Dispatch(context.Background(), "/x", "GET", map[string]any{"v": "a; echo b"})
	require.NoError(t, err)
	assert.Equal(t, KindForbidden, res.Kind)
	assert.Equal(t, ErrorResponse{Error: "Command contains forbidden shell characters."}, res.Payload())

	res, err = d.Dispatch(context.Background(), "/pipe", "GET", map[string]any{"p": "nginx"})
	require.NoError(t, err)
	assert.Equal(t, KindForbidden, res.Kind)

	assert.Empty(t, spy.calls)
}

func TestDispatchResolution(t *testing.T) {
	d := New(fakeRegistry{"GET /echo": echoEndpoint()}, &spyExecutor{})

	_, err := d.Dispatch(context.Background(), "/missing", "GET", nil)
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "No endpoint found for GET /missing", err.Error())

	_, err = d.Dispatch(context.Background(), "/echo", "POST", nil)
	assert.True(t, errors.As(err, &resErr), "method must match exactly")

	ep, err := d.Resolve(context.Background(), "echo", "get")
	require.NoError(t, err)
	assert.Equal(t, "echo", ep.Name)

	_, err = d.Dispatch(context.Background(), "/echo ", "GET", nil)
	require.True(t, errors.As(err, &resErr), "trailing whitespace is part of the route")
	assert.Equal(t, "No endpoint found for GET /echo ", err.Error())
}

func TestDispatchRegistryFailure(t *testing.T) {
	d := New(failingRegistry{}, &spyExecutor{})
	_, err := d.Dispatch(context.Background(), "/echo", "GET", nil)
	require.Error(t, err)
	var resErr *ResolutionError
	assert.False(t, errors.As(err, &resErr))
	assert.Contains(t, err.Error(), "database is locked")
}

func TestRunPassesDisplayEnv(t *testing.T) {
	spy := &spyExecutor{}
	slot := 7
	ep := &models.Endpoint{Name: "xclock", Route: "/xclock", Method: "POST", Command: "xclock", Display: &slot}

	res := New(nil, spy).Run(context.Background(), ep, nil)
	require.Equal(t, KindOK, res.Kind)
	require.Len(t, spy.calls, 1)
	assert.Equal(t, []string{"DISPLAY=:7"}, spy.calls[0].Env)
}

func TestProcessExecutorExportsDisplay(t *testing.T) {
	slot := 7
	ep := &models.Endpoint{Name: "env", Route: "/env", Method: "GET", Command: "printenv DISPLAY", Display: &slot}

	res := New(nil, &ProcessExecutor{}).Run(context.Background(), ep, nil)
	require.Equal(t, KindOK, res.Kind, "err: %v", res.Err)
	assert.Equal(t, []string{":7"}, res.Output)
}

func TestRunShapesOutput(t *testing.T) {
	spy := &spyExecutor{out: Output{Stdout: "\n  first\nsecond\r\nthird  \n\n", Stderr: "  warn\n", ExitCode: 3}}
	res := New(nil, spy).Run(context.Background(), echoEndpoint(), map[string]any{"msg": "x"})

	require.Equal(t, KindOK, res.Kind)
	assert.Equal(t, []string{"first", "second", "third"}, res.Output)
	assert.Equal(t, "warn", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunTrimsSeparatorCharacters(t *testing.T) {
	spy := &spyExecutor{out: Output{Stdout: "\x1cfoo\x1f\n", Stderr: "\x1dwarn\x1e"}}
	res := New(nil, spy).Run(context.Background(), echoEndpoint(), map[string]any{"msg": "x"})

	require.Equal(t, KindOK, res.Kind)
	assert.Equal(t, []string{"foo"}, res.Output)
	assert.Equal(t, "warn", res.Stderr)
}

func TestQuotedValueReachesProcessAsOneArgument(t *testing.T) {
	value := `it's "quoted" two  spaces`
	ep := &models.Endpoint{Name: "printf", Route: "/printf", Method: "POST", Command: "printf %s {v}"}

	res := New(nil, &ProcessExecutor{}).Run(context.Background(), ep, map[string]any{"v": value})
	require.Equal(t, KindOK, res.Kind, "err: %v", res.Err)
	assert.Equal(t, `printf %s 'it'"'"'s "quoted" two  spaces'`, res.Command)
	assert.Equal(t, []string{value}, res.Output)
	assert.Empty(t, res.Stderr)
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	ep := &models.Endpoint{Name: "fail", Route: "/fail", Method: "GET", Command: "ls /definitely/not/here"}
	res := New(nil, &ProcessExecutor{}).Run(context.Background(), ep, nil)

	require.Equal(t, KindOK, res.Kind)
	assert.NotZero(t, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
	assert.Equal(t, []string{}, res.Payload().(Response).Output)
}

func TestRunExecutionError(t *testing.T) {
	spy := &spyExecutor{err: errors.New("fork/exec /bin/sh: no such file or directory")}
	res := New(nil, spy).Run(context.Background(), echoEndpoint(), map[string]any{"msg": "x"})

	assert.Equal(t, KindExecution, res.Kind)
	assert.Equal(t, ErrorResponse{Error: "fork/exec /bin/sh: no such file or directory"}, res.Payload())
}

func TestProcessExecutorTimeout(t *testing.T) {
	executor := &ProcessExecutor{Timeout: 200 * time.Millisecond, WaitDelay: 100 * time.Millisecond}
	ep := &models.Endpoint{Name: "slow", Route: "/slow", Method: "GET", Command: "echo started\nsleep 5"}

	start := time.Now()
	res := New(nil, executor).Run(context.Background(), ep, nil)
	assert.Less(t, time.Since(start), 4*time.Second)

	require.Equal(t, KindTimeout, res.Kind)
	payload := res.Payload().(Response)
	assert.Equal(t, []string{"started"}, payload.Output)
	assert.True(t, strings.HasSuffix(payload.Error, "command timed out after 200ms"), payload.Error)
}

func TestProcessExecutorIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := (&ProcessExecutor{}).Execute(ctx, Invocation{Command: "echo still-ran"})
	require.NoError(t, err)
	assert.Equal(t, "still-ran\n", out.Stdout)
}

func TestDirectMode(t *testing.T) {
	spy := &spyExecutor{}
	reg := fakeRegistry{"GET /x": {Name: "x", Route: "/x", Method: "GET", Command: "echo --msg={v} '{w} two'"}}
	d := New(reg, spy, WithMode(ModeDirect))

	res, err := d.Dispatch(context.Background(), "/x", "GET", map[string]any{"v": "a; echo b", "w": "$HOME"})
	require.NoError(t, err)
	require.Equal(t, KindOK, res.Kind, "err: %v", res.Err)
	require.Len(t, spy.calls, 1)
	assert.Equal(t, []string{"echo", "--msg=a; echo b", "$HOME two"}, spy.calls[0].Args)
	assert.Equal(t, `echo '--msg=a; echo b' '$HOME two'`, res.Command)
}

func TestDirectModeRunsWithoutShell(t *testing.T) {
	reg := fakeRegistry{"GET /x": {Name: "x", Route: "/x", Method: "GET", Command: "echo {v}"}}
	d := New(reg, &ProcessExecutor{}, WithMode(ModeDirect))

	res, err := d.Dispatch(context.Background(), "/x", "GET", map[string]any{"v": "$HOME `id`"})
	require.NoError(t, err)
	require.Equal(t, KindOK, res.Kind, "err: %v", res.Err)
	assert.Equal(t, []string{"$HOME `id`"}, res.Output)
}

func TestDirectModeRejectsOperators(t *testing.T) {
	spy := &spyExecutor{}
	ep := &models.Endpoint{Name: "x", Route: "/x", Method: "GET", Command: "ps aux | grep {p}"}
	res := New(nil, spy, WithMode(ModeDirect)).Run(context.Background(), ep, map[string]any{"p": "x"})

	assert.Equal(t, KindTemplate, res.Kind)
	assert.Empty(t, spy.calls)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeShell, m)

	m, err = ParseMode("Direct")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, m)

	_, err = ParseMode("docker")
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, SplitLines(""))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\n\nb"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitLines("a\r\nb\rc"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\u2028b"))
	assert.Equal(t, []string{"a"}, SplitLines("a\n"))
}
