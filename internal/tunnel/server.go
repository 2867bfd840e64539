package tunnel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"pgtunnel/internal/util"
)

// ChannelOpener opens a byte-stream to a remote address through an
// established session. Satisfied by *Session; tests substitute fakes.
type ChannelOpener interface {
	OpenChannel(remoteHost string, remotePort int) (net.Conn, error)
}

// ForwardingServer accepts local TCP connections and relays each one
// through a forwarding channel to the remote database address. Every
// accepted connection gets its own relay goroutine; there is no cap on
// concurrent connections, which is acceptable because the expected client
// count is small (typically one interactive session).
type ForwardingServer struct {
	opener     ChannelOpener
	remoteHost string
	remotePort int

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewForwardingServer creates a server that forwards to
// remoteHost:remotePort, which is always the original database address,
// never the bastion's.
func NewForwardingServer(opener ChannelOpener, remoteHost string, remotePort int) *ForwardingServer {
	return &ForwardingServer{
		opener:     opener,
		remoteHost: remoteHost,
		remotePort: remotePort,
		done:       make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop. An empty bindAddr
// means loopback with an OS-assigned ephemeral port.
func (f *ForwardingServer) Start(bindAddr string) error {
	if bindAddr == "" {
		bindAddr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("bind local listener on %s: %w", bindAddr, err)
	}
	f.listener = ln
	f.wg.Add(1)
	go f.acceptLoop()
	return nil
}

// Addr returns the bound local host and port. Only valid after Start.
func (f *ForwardingServer) Addr() (string, int) {
	addr := f.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Stop closes the listener so no new connections are accepted. Relays
// already in flight are not torn down here; they end naturally when either
// side closes.
func (f *ForwardingServer) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		if f.listener != nil {
			f.listener.Close()
		}
	})
	f.wg.Wait()
}

func (f *ForwardingServer) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("accept failed", "error", err)
			continue
		}
		go f.forward(conn)
	}
}

// forward relays one accepted local connection. A channel rejection is
// logged and drops only this connection; the session and other relays are
// unaffected.
func (f *ForwardingServer) forward(local net.Conn) {
	channel, err := f.opener.OpenChannel(f.remoteHost, f.remotePort)
	if err != nil {
		slog.Error("failed to open forwarding channel",
			"remote", net.JoinHostPort(f.remoteHost, fmt.Sprint(f.remotePort)), "error", err)
		local.Close()
		return
	}
	relay(local, channel)
}

// relay copies bytes unmodified in both directions until end-of-stream or
// an I/O error on either side, then closes both ends. No retry: a broken
// forwarded connection is simply closed and the client must reconnect.
func relay(local, channel net.Conn) {
	defer local.Close()
	defer channel.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, err := io.CopyBuffer(channel, local, make([]byte, util.ForwardChunkSize))
		logCopyErr("local->remote", err)
		done <- struct{}{}
	}()
	go func() {
		_, err := io.CopyBuffer(local, channel, make([]byte, util.ForwardChunkSize))
		logCopyErr("remote->local", err)
		done <- struct{}{}
	}()
	// First side to finish wins; the deferred closes unblock the other.
	<-done
}

func logCopyErr(direction string, err error) {
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		slog.Debug("forwarding ended", "direction", direction, "error", err)
	}
}
