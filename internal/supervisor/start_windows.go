//go:build windows

package supervisor

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/UserExistsError/conpty"
)

// process is a started worker.
type process struct {
	cmd      *exec.Cmd
	cpty     *conpty.ConPty
	code     *int
	pid      int
	pgid     int
	copyDone chan struct{}
	fallback bool
}

// start launches cmd with output going to log. With usePTY the worker runs
// under a ConPTY pseudo-console when the OS provides one. Windows has no
// POSIX process groups, so the worker PID stands in for the group.
func start(cmd *exec.Cmd, log io.Writer, usePTY bool) (*process, error) {
	if usePTY && conpty.IsConPtyAvailable() {
		cpty, err := conpty.Start(commandLine(cmd.Args),
			conpty.ConPtyWorkDir(cmd.Dir),
			conpty.ConPtyEnv(cmd.Env))
		if err == nil {
			p := &process{cpty: cpty, pid: cpty.Pid(), copyDone: make(chan struct{})}
			p.pgid = p.pid
			go func() {
				defer close(p.copyDone)
				io.Copy(log, cpty)
			}()
			return p, nil
		}
	}

	cmd.Stdout = log
	cmd.Stderr = log
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid := cmd.Process.Pid
	return &process{cmd: cmd, pid: pid, pgid: pid, fallback: usePTY}, nil
}

// wait reaps the worker.
func (p *process) wait() error {
	if p.cpty == nil {
		return p.cmd.Wait()
	}
	code, err := p.cpty.Wait(context.Background())
	if err == nil {
		c := int(code)
		p.code = &c
	}
	// The console's output pipe only closes with the console itself.
	p.cpty.Close()
	select {
	case <-p.copyDone:
	case <-time.After(time.Second):
	}
	return err
}

// exitCode maps the finished worker to its exit code.
func (p *process) exitCode(waitErr error) *int {
	if p.cpty == nil {
		return exitCodeOf(p.cmd, waitErr)
	}
	if p.code == nil {
		return intPtr(1)
	}
	return p.code
}

func commandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = syscall.EscapeArg(a)
	}
	return strings.Join(quoted, " ")
}

// shellCommand runs command through cmd.exe.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}
