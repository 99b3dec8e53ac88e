// Package process launches the Syncthing executable and watches it until it
// exits, relaunching it when Syncthing asks for a restart.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"synctray-agent/internal/logger"
	"synctray-agent/internal/syncthing"
)

// ErrAlreadyRunning is returned by Start while a process is alive.
var ErrAlreadyRunning = errors.New("syncthing process already running")

// Runner owns at most one Syncthing process at a time.
type Runner struct {
	log logger.Logger

	// args builds the command line; replaced in tests.
	args         func(opts syncthing.LaunchOptions) []string
	restartDelay time.Duration

	mu            sync.Mutex
	listener      syncthing.ProcessListener
	cmd           *exec.Cmd
	killRequested bool
	exeName       string
}

var _ syncthing.ProcessRunner = (*Runner)(nil)

func NewRunner(log logger.Logger) *Runner {
	return &Runner{
		log:          log,
		args:         syncthingArgs,
		restartDelay: time.Second,
	}
}

func (r *Runner) SetListener(l syncthing.ProcessListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Start launches the process. The listener's ProcessStarting is called
// before Start returns.
func (r *Runner) Start(opts syncthing.LaunchOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return ErrAlreadyRunning
	}
	return r.launchLocked(opts)
}

func (r *Runner) launchLocked(opts syncthing.LaunchOptions) error {
	if opts.ExecutablePath == "" {
		return errors.New("no syncthing executable configured")
	}

	cmd := exec.Command(opts.ExecutablePath, r.args(opts)...)
	cmd.Env = syncthingEnv(os.Environ(), opts)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", opts.ExecutablePath, err)
	}

	if opts.LowPriority {
		if err := lowerPriority(cmd.Process.Pid); err != nil {
			r.log.Warningf("Could not lower priority of pid %d: %v", cmd.Process.Pid, err)
		}
	}

	r.cmd = cmd
	r.killRequested = false
	r.exeName = filepath.Base(opts.ExecutablePath)
	r.log.Infof("Started %s (pid %d)", opts.ExecutablePath, cmd.Process.Pid)
	if r.listener != nil {
		r.listener.ProcessStarting()
	}

	go r.wait(cmd, stdout, stderr)
	return nil
}

func (r *Runner) wait(cmd *exec.Cmd, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go r.forward(&wg, stdout)
	go r.forward(&wg, stderr)
	wg.Wait()

	err := cmd.Wait()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}

	r.mu.Lock()
	if r.cmd == cmd {
		r.cmd = nil
	}
	status := syncthing.ExitStatus{Code: code, Killed: r.killRequested}
	listener := r.listener
	r.mu.Unlock()

	r.log.Infof("Syncthing exited with code %d", code)
	if listener != nil {
		listener.ProcessExited(status)
	}

	if code == syncthing.ExitCodeRestart && !status.Killed {
		r.relaunch()
	}
}

func (r *Runner) relaunch() {
	time.Sleep(r.restartDelay)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil || r.listener == nil {
		return
	}
	r.log.Infof("Syncthing requested a restart, relaunching")
	if err := r.launchLocked(r.listener.LaunchOptions()); err != nil {
		r.log.Errorf("Relaunching syncthing: %v", err)
	}
}

func (r *Runner) forward(wg *sync.WaitGroup, src io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		r.log.Debugf("syncthing: %s", line)

		r.mu.Lock()
		listener := r.listener
		r.mu.Unlock()
		if listener != nil {
			listener.ProcessOutput(line)
		}
	}
}

// Kill terminates the running process, if any. The exit is reported as
// killed, so it is neither an error nor a restart.
func (r *Runner) Kill() error {
	r.mu.Lock()
	cmd := r.cmd
	if cmd != nil {
		r.killRequested = true
	}
	r.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// KillAll kills every process on the machine that looks like Syncthing.
func (r *Runner) KillAll() error {
	r.mu.Lock()
	names := []string{"syncthing"}
	if r.exeName != "" {
		names = append(names, r.exeName)
	}
	r.mu.Unlock()

	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	var errs []error
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.Name()
		if err != nil || !matchesAny(name, names) {
			continue
		}
		r.log.Infof("Killing stray syncthing process %d (%s)", p.Pid, name)
		if err := p.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", p.Pid, err))
		}
	}
	return errors.Join(errs...)
}

func matchesAny(name string, names []string) bool {
	base := strings.TrimSuffix(strings.ToLower(name), ".exe")
	for _, n := range names {
		if base == strings.TrimSuffix(strings.ToLower(n), ".exe") {
			return true
		}
	}
	return false
}

func syncthingArgs(opts syncthing.LaunchOptions) []string {
	args := []string{
		"--no-browser",
		"--no-restart",
		"--gui-apikey=" + opts.APIKey,
		"--gui-address=" + opts.Address,
	}
	if opts.CustomHome != "" {
		args = append(args, "--home="+opts.CustomHome)
	}
	return args
}

func syncthingEnv(base []string, opts syncthing.LaunchOptions) []string {
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "STTRACE=") || strings.HasPrefix(kv, "STNOUPGRADE=") {
			continue
		}
		env = append(env, kv)
	}
	if opts.Traces != "" {
		env = append(env, "STTRACE="+opts.Traces)
	}
	if opts.DenyUpgrade {
		env = append(env, "STNOUPGRADE=1")
	}
	return env
}
