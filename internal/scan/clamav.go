package scan

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/permitportal/storageops/internal/logging"
)

const (
	// DefaultScanTimeout bounds one scan-engine call end to end.
	DefaultScanTimeout = 30 * time.Second

	instreamChunkSize = 8192
)

var foundPattern = regexp.MustCompile(`stream: (.+) FOUND`)

// Scanner is the scan-engine contract: a payload in one of the tolerated
// result shapes, or a transport-level error. Both are folded to the same
// terminal states by the lifecycle manager.
type Scanner interface {
	Scan(ctx context.Context, path string) (map[string]any, error)
	Ping(ctx context.Context) bool
}

// ClamAV talks the clamd INSTREAM protocol over TCP. It emits the
// status-keyed payload shape.
type ClamAV struct {
	addr    string
	timeout time.Duration
	logger  *logging.Logger
	dial    func(ctx context.Context, addr string) (net.Conn, error)
}

// ClamAVOption customizes the client.
type ClamAVOption func(*ClamAV)

// WithDialer overrides the TCP dialer (for testing).
func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) ClamAVOption {
	return func(c *ClamAV) {
		c.dial = dial
	}
}

// NewClamAV creates a client for the daemon at host:port.
func NewClamAV(host string, port int, timeout time.Duration, logger *logging.Logger, opts ...ClamAVOption) *ClamAV {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	c := &ClamAV{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: timeout,
		logger:  logger,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks daemon liveness with the PING command.
func (c *ClamAV) Ping(ctx context.Context) bool {
	conn, err := c.dial(ctx, c.addr)
	if err != nil {
		c.logger.Warn("ClamAV ping failed: %v", err)
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write([]byte("PING\n")); err != nil {
		c.logger.Warn("ClamAV ping failed: %v", err)
		return false
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		c.logger.Warn("ClamAV ping failed: %v", err)
		return false
	}
	return string(buf) == "PONG"
}

// Scan streams the file at path to the daemon and returns its verdict as a
// status-keyed payload. Timeouts and connection failures are reported in the
// payload, never by hanging.
func (c *ClamAV) Scan(ctx context.Context, path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errorPayload(fmt.Sprintf("File not found: %s", path)), nil
		}
		return nil, fmt.Errorf("opening %s for scan: %w", path, err)
	}
	defer f.Close()

	response, err := c.streamToDaemon(ctx, f)
	if err != nil {
		if isTimeout(err) {
			c.logger.Error("ClamAV scan timeout: %v", err)
			return errorPayload("Scan timeout"), nil
		}
		c.logger.Error("ClamAV connection error: %v", err)
		return errorPayload("Unable to connect to ClamAV daemon"), nil
	}

	return c.parseResponse(response), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *ClamAV) streamToDaemon(ctx context.Context, r io.Reader) (string, error) {
	conn, err := c.dial(ctx, c.addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return "", err
	}

	chunk := make([]byte, instreamChunkSize)
	prefix := make([]byte, 4)
	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			binary.BigEndian.PutUint32(prefix, uint32(n))
			if _, err := conn.Write(prefix); err != nil {
				return "", err
			}
			if _, err := conn.Write(chunk[:n]); err != nil {
				return "", err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}

	// Zero-length chunk terminates the stream.
	binary.BigEndian.PutUint32(prefix, 0)
	if _, err := conn.Write(prefix); err != nil {
		return "", err
	}

	// z-command responses are NUL-terminated.
	resp, err := bufio.NewReader(conn).ReadString('\x00')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(resp, "\x00"), nil
}

func (c *ClamAV) parseResponse(response string) map[string]any {
	response = strings.TrimSpace(response)
	if response == "" {
		return errorPayload("Empty response from ClamAV")
	}

	c.logger.Debug("ClamAV scan result: %s", response)

	switch {
	case strings.Contains(response, "stream: OK"):
		return map[string]any{"status": "clean", "message": "File is clean"}
	case foundPattern.MatchString(response):
		name := foundPattern.FindStringSubmatch(response)[1]
		return map[string]any{
			"status":     "infected",
			"message":    fmt.Sprintf("Virus detected: %s", name),
			"virus_name": name,
		}
	case strings.Contains(response, "ERROR"):
		return errorPayload(fmt.Sprintf("ClamAV error: %s", response))
	default:
		return errorPayload(fmt.Sprintf("Unknown ClamAV response: %s", response))
	}
}

func errorPayload(message string) map[string]any {
	return map[string]any{"status": "error", "message": message}
}
