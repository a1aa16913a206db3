package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Spec describes the gateway process to launch. The command and environment
// come from the config store; the supervisor does not interpret them further.
type Spec struct {
	Command []string
	Dir     string
	Env     map[string]string
}

// Proc is a live handle to a spawned gateway process.
type Proc interface {
	// PID returns the OS process ID (or the container's init PID).
	PID() int
	// Output is the combined stdout+stderr stream. Read until EOF by the
	// supervisor's drain goroutine; nobody else may read it.
	Output() io.ReadCloser
	// Alive reports whether the process is still running.
	Alive() bool
	// Terminate sends the graceful termination signal.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 when unknown.
	ExitCode() int
}

// Runner spawns gateway processes. It is injected into the supervisor so
// tests can substitute a fake and so the panel can launch the gateway either
// directly or inside a container.
type Runner interface {
	Spawn(ctx context.Context, spec Spec) (Proc, error)
}

// ExecRunner launches the gateway as a direct child via os/exec.
type ExecRunner struct{}

func (ExecRunner) Spawn(ctx context.Context, spec Spec) (Proc, error) {
	if len(spec.Command) == 0 {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("empty command")}
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir

	// Merge environment
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		// Expand environment variables in values
		expanded := os.ExpandEnv(v)
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, expanded))
	}

	// Single pipe shared by stdout and stderr keeps line ordering close to
	// what the process actually emitted.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	// Parent's write end must close or the read side never sees EOF.
	pw.Close()

	p := &execProc{
		cmd:  cmd,
		out:  pr,
		done: make(chan struct{}),
		code: -1,
	}
	go func() {
		err := cmd.Wait()
		if cmd.ProcessState != nil {
			p.code = cmd.ProcessState.ExitCode()
		} else if err != nil {
			p.code = -1
		}
		close(p.done)
	}()
	return p, nil
}

type execProc struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	done chan struct{}
	code int
}

func (p *execProc) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProc) Output() io.ReadCloser { return p.out }

func (p *execProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProc) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

func (p *execProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

func (p *execProc) Done() <-chan struct{} { return p.done }

func (p *execProc) ExitCode() int {
	select {
	case <-p.done:
		return p.code
	default:
		return -1
	}
}
