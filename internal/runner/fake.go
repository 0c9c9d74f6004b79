package runner

import (
	"context"
	"fmt"
	"sync"
)

// Response is the canned result for a Fake command
type Response struct {
	Output string
	Err    error
}

// Fake serves canned responses keyed by the rendered command line. Commands
// without a registered response fail with an *Error.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []Command
}

// NewFake creates an empty Fake
func NewFake() *Fake {
	return &Fake{responses: make(map[string]Response)}
}

// On registers the stdout returned for a command line such as "git status --porcelain"
func (f *Fake) On(commandLine, output string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[commandLine] = Response{Output: output}
	return f
}

// Fail registers a failure for a command line
func (f *Fake) Fail(commandLine string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("exit status 1")
	}
	f.responses[commandLine] = Response{Err: &Error{Command: commandLine, ExitCode: 1, Err: err}}
	return f
}

// Run implements Runner
func (f *Fake) Run(ctx context.Context, cmd Command) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	if err := ctx.Err(); err != nil {
		return nil, &Error{Command: cmd.String(), ExitCode: -1, TimedOut: true, Err: err}
	}
	resp, ok := f.responses[cmd.String()]
	if !ok {
		return nil, &Error{Command: cmd.String(), ExitCode: 127, Err: fmt.Errorf("no fake response registered")}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return []byte(resp.Output), nil
}

// Calls returns the commands run so far
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ran reports whether a command line was invoked
func (f *Fake) Ran(commandLine string) bool {
	for _, c := range f.Calls() {
		if c.String() == commandLine {
			return true
		}
	}
	return false
}
