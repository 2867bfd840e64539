package tunnel

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeOpener hands out one side of a net.Pipe per OpenChannel call and
// records the requested targets.
type fakeOpener struct {
	mu      sync.Mutex
	targets []string
	remotes []net.Conn
	fail    bool
}

func (f *fakeOpener) OpenChannel(host string, port int) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, net.JoinHostPort(host, fmt.Sprint(port)))
	if f.fail {
		return nil, errors.New("administratively prohibited")
	}
	near, far := net.Pipe()
	f.remotes = append(f.remotes, far)
	return near, nil
}

func (f *fakeOpener) lastRemote(t *testing.T) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.remotes)
		f.mu.Unlock()
		if n > 0 {
			f.mu.Lock()
			c := f.remotes[n-1]
			f.mu.Unlock()
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no channel was opened")
	return nil
}

func startTestServer(t *testing.T, opener ChannelOpener) (*ForwardingServer, string) {
	t.Helper()
	srv := NewForwardingServer(opener, "db.internal", 5432)
	if err := srv.Start(""); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Stop)
	host, port := srv.Addr()
	return srv, net.JoinHostPort(host, fmt.Sprint(port))
}

func TestForwardingRelaysBothDirections(t *testing.T) {
	opener := &fakeOpener{}
	_, addr := startTestServer(t, opener)

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	remote := opener.lastRemote(t)
	defer remote.Close()

	if _, err := client.Write([]byte("SELECT 1")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 8)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := fullRead(remote, buf); err != nil {
		t.Fatalf("remote read: %v", err)
	}
	if string(buf) != "SELECT 1" {
		t.Fatalf("remote received %q", buf)
	}

	if _, err := remote.Write([]byte("1 row")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	resp := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := fullRead(client, resp); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(resp) != "1 row" {
		t.Fatalf("client received %q", resp)
	}

	if got := opener.targets[0]; got != "db.internal:5432" {
		t.Fatalf("channel target = %q, want original database address", got)
	}
}

func TestChannelRejectionDropsOnlyThatConnection(t *testing.T) {
	opener := &fakeOpener{fail: true}
	_, addr := startTestServer(t, opener)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := first.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected first connection to be closed")
	}

	opener.mu.Lock()
	opener.fail = false
	opener.mu.Unlock()

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("listener must keep serving after a rejection: %v", err)
	}
	defer second.Close()
	remote := opener.lastRemote(t)
	defer remote.Close()

	if _, err := second.Write([]byte("x")); err != nil {
		t.Fatalf("write after rejection: %v", err)
	}
	one := make([]byte, 1)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := fullRead(remote, one); err != nil {
		t.Fatalf("relay after rejection: %v", err)
	}
}

func TestStopRefusesNewConnections(t *testing.T) {
	opener := &fakeOpener{}
	srv, addr := startTestServer(t, opener)
	srv.Stop()

	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Fatal("dial succeeded after Stop")
	}
	// Stop is idempotent.
	srv.Stop()
}

func fullRead(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
