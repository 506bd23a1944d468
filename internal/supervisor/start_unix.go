//go:build !windows

package supervisor

import (
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// process is a started worker.
type process struct {
	cmd      *exec.Cmd
	pid      int
	pgid     int
	ptmx     *os.File
	copyDone chan struct{}
	fallback bool
}

// start launches cmd in its own process group with output going to log. With
// usePTY the worker gets a pseudo-terminal; if that fails it falls back to
// plain pipes like a non-PTY run.
func start(cmd *exec.Cmd, log io.Writer, usePTY bool) (*process, error) {
	p := &process{cmd: cmd}

	if usePTY {
		// pty.Start makes the worker a session (and group) leader.
		ptmx, err := pty.Start(cmd)
		if err == nil {
			p.ptmx = ptmx
			p.pid = cmd.Process.Pid
			p.pgid = p.pid
			p.copyDone = make(chan struct{})
			go func() {
				defer close(p.copyDone)
				io.Copy(log, ptmx)
			}()
			return p, nil
		}
		p.fallback = true
		// pty.Start may have set up SysProcAttr and stdio; reset for a clean start.
		fresh := exec.Command(cmd.Path, cmd.Args[1:]...)
		fresh.Dir, fresh.Env = cmd.Dir, cmd.Env
		cmd = fresh
		p.cmd = cmd
	}

	cmd.Stdout = log
	cmd.Stderr = log
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p.pid = cmd.Process.Pid
	p.pgid = p.pid
	return p, nil
}

// wait reaps the worker and drains PTY output.
func (p *process) wait() error {
	err := p.cmd.Wait()
	if p.ptmx != nil {
		// Background children can keep the terminal open; do not wait on them.
		select {
		case <-p.copyDone:
		case <-time.After(time.Second):
		}
		p.ptmx.Close()
	}
	return err
}

// exitCode maps the finished worker to its exit code; nil means a signal.
func (p *process) exitCode(waitErr error) *int {
	return exitCodeOf(p.cmd, waitErr)
}

// shellCommand runs command through the POSIX shell.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("sh", "-c", command)
}
