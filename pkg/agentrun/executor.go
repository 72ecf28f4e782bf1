package agentrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snippet represents the screened source, carrying its unique on-container
// path. It exists only for the duration of one execute call.
type snippet struct {
	source  string
	imports []string
	path    string
}

func newSnippet(source string, imports []string) snippet {
	return snippet{
		source:  source,
		imports: imports,
		path:    fmt.Sprintf("/tmp/agentrun-%s.py", uuid.NewString()),
	}
}

// executor copies a snippet in, invokes the interpreter with a wall-clock
// timeout, captures stdout/stderr/exit, and always removes the snippet file
// before returning.
type executor struct {
	adapter Adapter
	timeout time.Duration
}

// errExecutionTimeout is returned by run when the interpreter does not
// finish within the configured timeout.
type errExecutionTimeout struct{}

func (errExecutionTimeout) Error() string { return "Execution timed out" }

// run executes s and returns the Outcome: stdout on success, stderr
// (interpreter traceback) on non-zero exit, or errExecutionTimeout on
// deadline. failed reports whether the interpreter itself exited non-zero
// (the ExecutionError kind, for logging only — it is never an error to the
// caller). Guarantees the snippet file is removed from the container before
// returning, on every path.
func (e *executor) run(ctx context.Context, s snippet) (outcome string, failed bool, err error) {
	if err := e.adapter.CopyIn(ctx, []byte(s.source), s.path); err != nil {
		return "", false, err
	}
	defer func() {
		_ = e.adapter.RemovePath(context.Background(), s.path)
	}()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout, stderr, exitCode, execErr := e.adapter.Exec(execCtx, []string{"python3", s.path}, "")
	if execCtx.Err() == context.DeadlineExceeded {
		// Best-effort: kill any process still holding the script path as
		// argv before reporting the timeout.
		_, _, _, _ = e.adapter.Exec(context.Background(), []string{"pkill", "-f", s.path}, "")
		return "", false, errExecutionTimeout{}
	}
	if execErr != nil {
		return "", false, execErr
	}

	if exitCode == 0 {
		return stdout, false, nil
	}
	return stderr, true, nil
}
