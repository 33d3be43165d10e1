package executor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/target"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures host connectivity for the SSH executor; one
// config applies to every host the executor connects to.
type SSHConfig struct {
	User                  string
	Port                  int
	PrivateKeyPath        string
	KnownHostsPath        string
	StrictHostKeyChecking bool
	ConnectTimeout        time.Duration
}

// SSHExecutor runs Direct_command targets and file conditions over a
// pooled SSH connection per host, and stages copy_files transfers with
// SFTP. Handles it hands out are namespaced "ssh:<run-id>" and kept in
// an in-memory table mapping back to the session/host that started
// them, since golang.org/x/crypto/ssh has no native async job concept.
type SSHExecutor struct {
	cfg    SSHConfig
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
	runs    map[string]*sshRun
	nextRun int64
}

type sshRun struct {
	host     string
	finished bool
	status   ProbeStatus
	reason   string
}

func NewSSHExecutor(cfg SSHConfig, logger zerolog.Logger) *SSHExecutor {
	return &SSHExecutor{
		cfg:     cfg,
		logger:  logger.With().Str("component", "executor.ssh").Logger(),
		clients: make(map[string]*ssh.Client),
		runs:    make(map[string]*sshRun),
	}
}

func (e *SSHExecutor) clientFor(host string) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[host]; ok {
		return c, nil
	}

	authMethods, err := e.authMethods()
	if err != nil {
		return nil, engineerr.Wrap(engineerr.StartError, "load ssh auth", err).WithOperation("ssh.dial")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.cfg.StrictHostKeyChecking && e.cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(e.cfg.KnownHostsPath)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.ConfigError, "load known_hosts", err)
		}
		hostKeyCallback = cb
	}

	port := e.cfg.Port
	if port == 0 {
		port = 22
	}
	timeout := e.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.UnixError, "ssh dial "+addr, err).WithOperation("ssh.dial")
	}
	e.clients[host] = client
	return client, nil
}

func (e *SSHExecutor) authMethods() ([]ssh.AuthMethod, error) {
	if e.cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	key, err := os.ReadFile(e.cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// run executes cmd on host within ctx, classifying failures the same
// way the reference SSH transport does: a non-zero exit is a
// ProcessFailed-shaped result surfaced to the caller as stdout/stderr
// plus a nil error, while connection and session errors classify as
// UnixError.
func (e *SSHExecutor) run(ctx context.Context, host, cmd string) (stdout, stderr string, exitErr *ssh.ExitError, err error) {
	client, connErr := e.clientFor(host)
	if connErr != nil {
		return "", "", nil, connErr
	}
	session, sessErr := client.NewSession()
	if sessErr != nil {
		return "", "", nil, engineerr.Wrap(engineerr.UnixError, "open ssh session", sessErr)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return outBuf.String(), errBuf.String(), nil, engineerr.Wrap(engineerr.UnixError, "ssh command timed out", ctx.Err())
	case runErr := <-done:
		if runErr == nil {
			return outBuf.String(), errBuf.String(), nil, nil
		}
		if ee, ok := runErr.(*ssh.ExitError); ok {
			return outBuf.String(), errBuf.String(), ee, nil
		}
		return outBuf.String(), errBuf.String(), nil, engineerr.Wrap(engineerr.UnixError, "ssh command failed", runErr)
	}
}

func (e *SSHExecutor) CheckCondition(ctx context.Context, host string, cond *target.Condition) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch cond.Kind {
	case target.ConditionAnd:
		for _, sub := range cond.And {
			ok, err := e.CheckCondition(ctx, host, &sub)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	case target.ConditionFileExists:
		_, _, exitErr, err := e.run(ctx, host, fmt.Sprintf("test -e %s", shellQuote(cond.Path)))
		if err != nil {
			return false, err
		}
		return exitErr == nil, nil
	case target.ConditionFileMinBytes:
		out, _, exitErr, err := e.run(ctx, host, fmt.Sprintf("stat -c %%s %s 2>/dev/null", shellQuote(cond.Path)))
		if err != nil {
			return false, err
		}
		if exitErr != nil {
			return false, nil
		}
		size, _ := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
		return size >= cond.MinBytes, nil
	default:
		return false, engineerr.New(engineerr.ConfigError, "unknown condition kind "+string(cond.Kind))
	}
}

func (e *SSHExecutor) Start(ctx context.Context, bp target.BuildProcess) (string, error) {
	if bp.Kind != target.BuildDirectCommand {
		return "", engineerr.New(engineerr.ConfigError, "ssh executor only starts direct_command targets")
	}

	e.mu.Lock()
	e.nextRun++
	id := fmt.Sprintf("ssh:%d", e.nextRun)
	e.runs[id] = &sshRun{host: bp.Host}
	e.mu.Unlock()

	stdout, stderr, exitErr, err := e.run(ctx, bp.Host, bp.Program)

	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.runs[id]
	run.finished = true
	if err != nil {
		delete(e.runs, id)
		return "", engineerr.Wrap(engineerr.StartError, "start direct command", err)
	}
	if exitErr != nil {
		run.status = FinishedWithFailure
		run.reason = fmt.Sprintf("exit %d: %s", exitErr.ExitStatus(), strings.TrimSpace(stderr))
	} else {
		run.status = FinishedSuccessfully
		run.reason = strings.TrimSpace(stdout)
	}
	return id, nil
}

func (e *SSHExecutor) Probe(ctx context.Context, handle string) (ProbeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[handle]
	if !ok {
		return ProbeResult{}, engineerr.New(engineerr.ProbeError, "unknown run handle "+handle)
	}
	if !run.finished {
		return ProbeResult{Status: StillRunning}, nil
	}
	return ProbeResult{Status: run.status, Reason: run.reason}, nil
}

func (e *SSHExecutor) Kill(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[handle]; !ok {
		return engineerr.New(engineerr.KillError, "unknown run handle "+handle)
	}
	delete(e.runs, handle)
	return nil
}

func (e *SSHExecutor) CopyFiles(ctx context.Context, srcHost string, files []string, dstHost string, path string) (string, string, error) {
	client, err := e.clientFor(dstHost)
	if err != nil {
		return "", "", err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return "", "", engineerr.Wrap(engineerr.UnixError, "open sftp client", err)
	}
	defer sc.Close()

	for _, f := range files {
		dst := filepath.Join(path, filepath.Base(f))
		local, err := os.Open(f)
		if err != nil {
			return "", "", engineerr.Wrap(engineerr.UnixError, "open local file "+f, err)
		}
		remote, err := sc.Create(dst)
		if err != nil {
			local.Close()
			return "", "", engineerr.Wrap(engineerr.UnixError, "create remote file "+dst, err)
		}
		_, copyErr := remote.ReadFrom(local)
		local.Close()
		remote.Close()
		if copyErr != nil {
			return "", "", engineerr.Wrap(engineerr.UnixError, "copy to "+dst, copyErr)
		}
	}
	return dstHost, fmt.Sprintf("ls %s", shellQuote(path)), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
