/*
Copyright 2024 The Pinacle Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hostconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

// PrivateKeyDialer opens SSH connections to remote hosts using a single
// private key held by the control plane, in the same key-material shape
// an ssh.NewKeyPair helper would produce.
type PrivateKeyDialer struct {
	Signer  ssh.Signer
	Timeout time.Duration
}

// NewPrivateKeyDialer parses a PEM-encoded private key and returns a Dialer
// for remote, SSH-reachable hosts.
func NewPrivateKeyDialer(privateKeyPEM []byte, dialTimeout time.Duration) (*PrivateKeyDialer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "parse ssh private key")
	}
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &PrivateKeyDialer{Signer: signer, Timeout: dialTimeout}, nil
}

// Open dials host over SSH. The returned Conn owns one ssh.Client and opens a
// fresh ssh.Session per Exec, so concurrent Execs never serialize behind one
// another.
func (d *PrivateKeyDialer) Open(ctx context.Context, host HostDescriptor) (Conn, error) {
	cfg := &ssh.ClientConfig{
		User:            host.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(d.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // fleet hosts are not yet known_hosts-pinned; TODO track host keys per-server.
		Timeout:         d.Timeout,
	}

	addr := net.JoinHostPort(host.SSHHost, portOrDefault(host.SSHPort))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, err, fmt.Sprintf("dial ssh %s", addr))
	}

	return &sshConn{client: client}, nil
}

func portOrDefault(p int) string {
	if p == 0 {
		p = 22
	}
	return fmt.Sprintf("%d", p)
}

type sshConn struct {
	mu     sync.Mutex // guards (re)dial only, never held across Exec.
	client *ssh.Client
}

func (c *sshConn) Exec(ctx context.Context, cmd string, args []string, opts ExecOptions) (ExecResult, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return ExecResult{}, apierrors.New(apierrors.KindTransient, "ssh connection closed")
	}

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, apierrors.Wrap(apierrors.KindTransient, err, "open ssh session")
	}
	defer session.Close()

	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := quoteCommandLine(cmd, args, opts.Dir, opts.Env)

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- session.Run(line) }()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return ExecResult{}, ctx.Err()
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 124}, nil
	case err := <-done:
		result := ExecResult{
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err == nil {
			result.ExitCode = 0
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return ExecResult{}, apierrors.Wrap(apierrors.KindTransient, err, "run ssh command")
	}
}

// quoteCommandLine builds a single shell line with each argument quoted, so
// callers never have to concatenate untrusted strings into a shell
// themselves. This still runs through a remote shell (SSH
// sessions are shell-based by nature); args are always quoted to prevent
// word-splitting and injection from arguments that may contain user-supplied
// data (e.g. env-var values, file paths).
func quoteCommandLine(cmd string, args []string, dir string, env []string) string {
	var buf bytes.Buffer
	for _, kv := range env {
		buf.WriteString(shellQuote(kv))
		buf.WriteByte(' ')
	}
	if dir != "" {
		buf.WriteString("cd ")
		buf.WriteString(shellQuote(dir))
		buf.WriteString(" && ")
	}
	buf.WriteString(shellQuote(cmd))
	for _, a := range args {
		buf.WriteByte(' ')
		buf.WriteString(shellQuote(a))
	}
	return buf.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (c *sshConn) CopyIn(ctx context.Context, localPath, remotePath string) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open local file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat local file")
	}

	session, err := client.NewSession()
	if err != nil {
		return apierrors.Wrap(apierrors.KindTransient, err, "open ssh session for copy-in")
	}
	defer session.Close()

	errCh := make(chan error, 1)
	go func() {
		w, err := session.StdinPipe()
		if err != nil {
			errCh <- err
			return
		}
		defer w.Close()
		fmt.Fprintf(w, "C0644 %d %s\n", info.Size(), path.Base(remotePath))
		if _, err := io.Copy(w, f); err != nil {
			errCh <- err
			return
		}
		fmt.Fprint(w, "\x00")
	}()

	if err := session.Run("scp -qt " + path.Dir(remotePath)); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, err, "scp copy-in")
	}
	return <-errCh
}

func (c *sshConn) CopyOut(ctx context.Context, remotePath, localPath string) error {
	res, err := c.Exec(ctx, "cat", []string{remotePath}, ExecOptions{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("copy-out %s: exit %d: %s", remotePath, res.ExitCode, res.Stderr))
	}
	return os.WriteFile(localPath, []byte(res.Stdout), 0o644)
}

func (c *sshConn) Dial(ctx context.Context, targetPort int) (net.Conn, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, apierrors.New(apierrors.KindTransient, "ssh connection closed")
	}
	conn, err := client.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", targetPort))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, err, "ssh direct-tcpip dial")
	}
	return conn, nil
}

func (c *sshConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
