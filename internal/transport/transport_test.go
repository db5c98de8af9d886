//go:build linux || darwin

package transport_test

import (
	"errors"
	"io"
	"net"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/internal/transport"
)

func listen(t *testing.T) (api.Handle, string) {
	t.Helper()
	ln, err := transport.Listen(transport.ListenConfig{Port: 0, Backlog: 8})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { transport.Close(ln) })
	ap, err := transport.LocalAddr(ln)
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	return ln, net.JoinHostPort("127.0.0.1", strconv.Itoa(int(ap.Port())))
}

// accept retries until the kernel has queued the connection.
func accept(t *testing.T, ln api.Handle) (api.Handle, string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		h, peer, err := transport.Accept(ln)
		if err == nil {
			t.Cleanup(func() { transport.Close(h) })
			return h, peer
		}
		if !errors.Is(err, api.ErrTimeout) || time.Now().After(deadline) {
			t.Fatalf("Accept: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAcceptEmptyQueue(t *testing.T) {
	ln, _ := listen(t)
	if _, _, err := transport.Accept(ln); !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("Accept on idle listener err = %v, want ErrTimeout", err)
	}
}

func TestListenAcceptReadWrite(t *testing.T) {
	ln, addr := listen(t)

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	h, peer := accept(t, ln)
	if peer == "" || peer == "unknown" {
		t.Errorf("peer = %q", peer)
	}

	conn := transport.NewConn(h, transport.Timeouts{Recv: 2 * time.Second, Send: 2 * time.Second})
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if _, err := conn.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = client.Read(buf)
	if err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("client Read = %q, %v", buf[:n], err)
	}

	client.Close()
	if _, err := conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read after peer close err = %v, want EOF", err)
	}
}

func TestReadTimeout(t *testing.T) {
	ln, addr := listen(t)
	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	h, _ := accept(t, ln)
	if err := transport.SetTimeouts(h, transport.Timeouts{Recv: 50 * time.Millisecond, Send: time.Second}); err != nil {
		t.Fatalf("SetTimeouts: %v", err)
	}

	start := time.Now()
	_, err = transport.Read(h, make([]byte, 8), start.Add(50*time.Millisecond))
	if !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("Read err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

// signalStorm keeps signals arriving at every thread so blocking calls see EINTR.
func signalStorm(t *testing.T) {
	t.Helper()
	if err := pprof.StartCPUProfile(io.Discard); err == nil {
		t.Cleanup(pprof.StopCPUProfile)
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
}

func TestReadDeadlineUnderSignals(t *testing.T) {
	ln, addr := listen(t)
	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	h, _ := accept(t, ln)
	signalStorm(t)

	// SO_RCVTIMEO alone restarts on every interrupted call
	if err := transport.SetTimeouts(h, transport.Timeouts{Recv: 200 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	conn := transport.NewConn(h, transport.Timeouts{Recv: 200 * time.Millisecond})
	for i := 0; i < 3; i++ {
		start := time.Now()
		_, err := conn.Read(make([]byte, 8))
		if !errors.Is(err, api.ErrTimeout) {
			t.Fatalf("Read err = %v, want ErrTimeout", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("read timeout of 200ms took %v", elapsed)
		}
	}
}

func TestWriteTimeout(t *testing.T) {
	ln, addr := listen(t)
	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	h, _ := accept(t, ln)
	signalStorm(t)

	// the peer never reads, so the buffers fill and the write must give up
	conn := transport.NewConn(h, transport.Timeouts{Send: 200 * time.Millisecond})
	start := time.Now()
	n, err := conn.Write(make([]byte, 64<<20))
	if !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("Write err = %v after %d bytes, want ErrTimeout", err, n)
	}
	if n == 0 || n >= 64<<20 {
		t.Errorf("written = %d, want a partial write", n)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("write timeout of 200ms took %v", elapsed)
	}
}

func TestListenBindConflict(t *testing.T) {
	_, addr := listen(t)
	_, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	// SO_REUSEADDR does not allow two listeners on the same port.
	_, err := transport.Listen(transport.ListenConfig{Port: uint16(port)})
	if !errors.Is(err, api.ErrBind) {
		t.Fatalf("second Listen err = %v, want ErrBind", err)
	}
}

func TestControlDatagrams(t *testing.T) {
	srv, err := transport.ListenControl(0)
	if err != nil {
		t.Fatalf("ListenControl: %v", err)
	}
	defer transport.Close(srv)
	ap, err := transport.LocalAddr(srv)
	if err != nil {
		t.Fatal(err)
	}
	if !ap.Addr().IsLoopback() {
		t.Errorf("control bound to %v, want loopback", ap)
	}

	buf := make([]byte, 32)
	if _, ok, err := transport.RecvDatagram(srv, buf); ok || err != nil {
		t.Fatalf("empty socket: ok=%v err=%v", ok, err)
	}

	cli, err := transport.DialControl(ap.Port())
	if err != nil {
		t.Fatalf("DialControl: %v", err)
	}
	defer transport.Close(cli)
	if err := transport.SendDatagram(cli, []byte("hello")); err != nil {
		t.Fatalf("SendDatagram: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, ok, err := transport.RecvDatagram(srv, buf)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			if string(buf[:n]) != "hello" {
				t.Fatalf("datagram = %q", buf[:n])
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("datagram never arrived")
}

func TestValid(t *testing.T) {
	ln, _ := listen(t)
	if !transport.Valid(ln) {
		t.Error("open listener reported invalid")
	}
	if transport.Valid(api.InvalidHandle) {
		t.Error("InvalidHandle reported valid")
	}
	if err := transport.Close(api.InvalidHandle); err != nil {
		t.Errorf("Close(invalid) = %v", err)
	}
}
