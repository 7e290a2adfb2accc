package atmodem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
	"golang.org/x/time/rate"
)

var (
	// ErrCommand is returned when the modem answers ERROR or +CME ERROR.
	ErrCommand = errors.New("atmodem: command failed")
	// ErrTimeout is returned when no final result arrives in time.
	ErrTimeout = errors.New("atmodem: command timed out")
)

// CME error codes from 3GPP TS 27.007 that the backend reacts to.
const (
	cmeSIMNotInserted = 10
	cmeNotFound       = 22
)

// CMEError is a +CME ERROR final result. It matches ErrCommand with errors.Is.
type CMEError struct {
	Code int
}

func (e *CMEError) Error() string { return fmt.Sprintf("atmodem: +CME ERROR: %d", e.Code) }
func (e *CMEError) Unwrap() error { return ErrCommand }

// port is the subset of serial.Port a session needs.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

const (
	// readPoll bounds a single Read so cancellation is noticed between reads.
	readPoll = 100 * time.Millisecond
	// maxLineBuffer caps an unterminated response line.
	maxLineBuffer = 64 << 10
)

var openPort = func(path string, baud int) (port, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// session is one open conversation with a modem port. Commands are strictly
// sequential: a command is written only after the previous final result.
type session struct {
	port    port
	limiter *rate.Limiter
	timeout time.Duration
	buf     []byte
	chunk   [256]byte
}

func openSession(path string, baud int, limiter *rate.Limiter, timeout time.Duration) (*session, error) {
	p, err := openPort(path, baud)
	if err != nil {
		return nil, fmt.Errorf("atmodem: open %s: %w", path, err)
	}
	if err := p.SetReadTimeout(readPoll); err != nil {
		p.Close()
		return nil, fmt.Errorf("atmodem: %s: set read timeout: %w", path, err)
	}
	return &session{port: p, limiter: limiter, timeout: timeout}, nil
}

func (s *session) close() error {
	return s.port.Close()
}

// command sends cmd and returns the information lines preceding OK.
func (s *session) command(ctx context.Context, cmd string) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(s.port, cmd+"\r"); err != nil {
		return nil, fmt.Errorf("atmodem: write %s: %w", cmd, err)
	}

	deadline := time.Now().Add(s.timeout)
	var lines []string
	for {
		line, err := s.readLine(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, cmd)
			}
			return nil, err
		}
		switch {
		case line == "" || line == cmd:
			// blank separator or echo
		case line == "OK":
			return lines, nil
		case line == "ERROR":
			return nil, fmt.Errorf("%w: %s", ErrCommand, cmd)
		case strings.HasPrefix(line, "+CME ERROR:"):
			code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "+CME ERROR:")))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %s", ErrCommand, cmd, line)
			}
			return nil, &CMEError{Code: code}
		default:
			lines = append(lines, line)
		}
	}
}

func (s *session) readLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := strings.TrimRight(string(s.buf[:i]), "\r")
			s.buf = s.buf[i+1:]
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		// serial ports return 0, nil when the read timeout expires.
		n, err := s.port.Read(s.chunk[:])
		if err != nil {
			return "", fmt.Errorf("atmodem: read: %w", err)
		}
		s.buf = append(s.buf, s.chunk[:n]...)
		if len(s.buf) > maxLineBuffer && bytes.IndexByte(s.buf, '\n') < 0 {
			s.buf = nil
			return "", fmt.Errorf("%w: response line exceeds %d bytes", ErrCommand, maxLineBuffer)
		}
	}
}
