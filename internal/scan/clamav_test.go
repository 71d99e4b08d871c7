package scan

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/permitportal/storageops/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(false, true)
}

// instreamServer answers one INSTREAM exchange on the server side of a pipe
// and reports the streamed bytes.
func instreamServer(t *testing.T, conn net.Conn, response string) <-chan []byte {
	t.Helper()
	received := make(chan []byte, 1)

	go func() {
		defer conn.Close()

		cmd := make([]byte, len("zINSTREAM\x00"))
		if _, err := io.ReadFull(conn, cmd); err != nil {
			received <- nil
			return
		}

		var body []byte
		prefix := make([]byte, 4)
		for {
			if _, err := io.ReadFull(conn, prefix); err != nil {
				received <- nil
				return
			}
			size := binary.BigEndian.Uint32(prefix)
			if size == 0 {
				break
			}
			chunk := make([]byte, size)
			if _, err := io.ReadFull(conn, chunk); err != nil {
				received <- nil
				return
			}
			body = append(body, chunk...)
		}

		_, _ = conn.Write([]byte(response + "\x00"))
		received <- body
	}()

	return received
}

func pipeClamAV(t *testing.T, timeout time.Duration, serve func(conn net.Conn)) *ClamAV {
	t.Helper()
	return NewClamAV("127.0.0.1", 3310, timeout, testLogger(), WithDialer(
		func(ctx context.Context, addr string) (net.Conn, error) {
			client, server := net.Pipe()
			serve(server)
			return client, nil
		}))
}

func writeScanFixture(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.pdf")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestClamAVScanClean(t *testing.T) {
	content := []byte("plain document body")
	var received <-chan []byte
	client := pipeClamAV(t, time.Second, func(conn net.Conn) {
		received = instreamServer(t, conn, "stream: OK")
	})

	payload, err := client.Scan(context.Background(), writeScanFixture(t, content))
	require.NoError(t, err)

	assert.Equal(t, "clean", payload["status"])
	assert.Equal(t, "File is clean", payload["message"])
	assert.Equal(t, content, <-received, "daemon must receive the exact file bytes")
}

func TestClamAVScanInfected(t *testing.T) {
	client := pipeClamAV(t, time.Second, func(conn net.Conn) {
		instreamServer(t, conn, "stream: Eicar-Test-Signature FOUND")
	})

	payload, err := client.Scan(context.Background(), writeScanFixture(t, []byte("x")))
	require.NoError(t, err)

	assert.Equal(t, "infected", payload["status"])
	assert.Equal(t, "Eicar-Test-Signature", payload["virus_name"])
	assert.Equal(t, "Virus detected: Eicar-Test-Signature", payload["message"])
}

func TestClamAVScanChunksLargeFile(t *testing.T) {
	// Three full chunks plus a remainder.
	content := make([]byte, instreamChunkSize*3+17)
	for i := range content {
		content[i] = byte(i % 251)
	}

	var received <-chan []byte
	client := pipeClamAV(t, 5*time.Second, func(conn net.Conn) {
		received = instreamServer(t, conn, "stream: OK")
	})

	payload, err := client.Scan(context.Background(), writeScanFixture(t, content))
	require.NoError(t, err)
	assert.Equal(t, "clean", payload["status"])
	assert.Equal(t, content, <-received)
}

func TestClamAVScanTimeout(t *testing.T) {
	client := pipeClamAV(t, 100*time.Millisecond, func(conn net.Conn) {
		// Drain the stream but never answer.
		go io.Copy(io.Discard, conn)
	})

	payload, err := client.Scan(context.Background(), writeScanFixture(t, []byte("x")))
	require.NoError(t, err, "timeouts are recorded in the payload, never returned")
	assert.Equal(t, "error", payload["status"])
	assert.Equal(t, "Scan timeout", payload["message"])
}

func TestClamAVScanConnectionRefused(t *testing.T) {
	client := NewClamAV("127.0.0.1", 3310, time.Second, testLogger(), WithDialer(
		func(ctx context.Context, addr string) (net.Conn, error) {
			return nil, &net.OpError{Op: "dial", Err: os.ErrClosed}
		}))

	payload, err := client.Scan(context.Background(), writeScanFixture(t, []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "error", payload["status"])
	assert.Equal(t, "Unable to connect to ClamAV daemon", payload["message"])
}

func TestClamAVScanMissingFile(t *testing.T) {
	dialed := false
	client := NewClamAV("127.0.0.1", 3310, time.Second, testLogger(), WithDialer(
		func(ctx context.Context, addr string) (net.Conn, error) {
			dialed = true
			return nil, os.ErrClosed
		}))

	payload, err := client.Scan(context.Background(), "/nonexistent/file.pdf")
	require.NoError(t, err)
	assert.Equal(t, "error", payload["status"])
	assert.Contains(t, payload["message"], "File not found")
	assert.False(t, dialed)
}

func TestClamAVParseResponse(t *testing.T) {
	t.Parallel()

	client := NewClamAV("127.0.0.1", 3310, time.Second, testLogger())

	tests := []struct {
		name     string
		response string
		status   string
	}{
		{"daemon error", "INSTREAM size limit exceeded. ERROR", "error"},
		{"unknown response", "something unexpected", "error"},
		{"empty response", "", "error"},
		{"clean with trailing newline", "stream: OK\n", "clean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, client.parseResponse(tt.response)["status"])
		})
	}
}

func TestClamAVPing(t *testing.T) {
	client := NewClamAV("127.0.0.1", 3310, time.Second, testLogger(), WithDialer(
		func(ctx context.Context, addr string) (net.Conn, error) {
			clientConn, server := net.Pipe()
			go func() {
				defer server.Close()
				buf := make([]byte, 5)
				if _, err := io.ReadFull(server, buf); err != nil {
					return
				}
				if string(buf) == "PING\n" {
					_, _ = server.Write([]byte("PONG"))
				}
			}()
			return clientConn, nil
		}))

	assert.True(t, client.Ping(context.Background()))
}

func TestClamAVPingUnreachable(t *testing.T) {
	client := NewClamAV("127.0.0.1", 3310, time.Second, testLogger(), WithDialer(
		func(ctx context.Context, addr string) (net.Conn, error) {
			return nil, os.ErrClosed
		}))

	assert.False(t, client.Ping(context.Background()))
}
