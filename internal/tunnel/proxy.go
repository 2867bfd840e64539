package tunnel

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"pgtunnel/internal/model"
)

// dialViaProxy establishes the SSH connection over a ProxyCommand
// subprocess instead of a direct TCP dial. The subprocess speaks the SSH
// wire protocol over its stdin/stdout pipes, per OpenSSH convention.
func dialViaProxy(params model.ConnectionParams, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := startProxyCommand(params.ProxyCommand, params.Hostname, params.Port)
	if err != nil {
		return nil, fmt.Errorf("proxy command: %w", err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, params.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

func startProxyCommand(command, host string, port int) (net.Conn, error) {
	// OpenSSH TOKENS: %h is the host, %p the port, %% a literal percent.
	expanded := strings.NewReplacer("%%", "%", "%h", host, "%p", strconv.Itoa(port)).Replace(command)
	cmd := exec.Command("/bin/sh", "-c", expanded)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &proxyConn{cmd: cmd, in: stdin, out: stdout, command: expanded}, nil
}

// proxyConn adapts a ProxyCommand subprocess's pipes to net.Conn so the SSH
// client can treat it like any other transport.
type proxyConn struct {
	cmd     *exec.Cmd
	in      io.WriteCloser
	out     io.ReadCloser
	command string
}

func (c *proxyConn) Read(p []byte) (int, error)  { return c.out.Read(p) }
func (c *proxyConn) Write(p []byte) (int, error) { return c.in.Write(p) }

func (c *proxyConn) Close() error {
	c.in.Close()
	c.out.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

func (c *proxyConn) LocalAddr() net.Addr  { return proxyAddr{c.command} }
func (c *proxyConn) RemoteAddr() net.Addr { return proxyAddr{c.command} }

// Pipes have no deadline support; the SSH client does not rely on it.
func (c *proxyConn) SetDeadline(time.Time) error      { return nil }
func (c *proxyConn) SetReadDeadline(time.Time) error  { return nil }
func (c *proxyConn) SetWriteDeadline(time.Time) error { return nil }

type proxyAddr struct{ command string }

func (a proxyAddr) Network() string { return "proxy" }
func (a proxyAddr) String() string  { return a.command }
