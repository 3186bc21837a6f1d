package irbis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/config"
)

// Protocol timeouts.
const (
	connectTimeout = 10 * time.Second
	readTimeout    = 30 * time.Second
)

// Command codes.
const (
	cmdRegister    = "A"
	cmdUnregister  = "B"
	cmdReadRecord  = "C"
	cmdWriteRecord = "D"
	cmdFormat      = "G"
	cmdSearch      = "K"
)

// workstationCode identifies the client type to the server.
const workstationCode = "C"

// recordLineDelimiter joins record lines inside a single request line when
// writing a record.
const recordLineDelimiter = "\x1F\x1E"

// Known negative return codes.
const (
	RetServerUnavailable = -3
	RetRecordDeleted     = -140
	RetRecordLocked      = -602
	RetUnknownUser       = -600
	RetBadPassword       = -601
)

// ProtocolError is a negative server return code.
type ProtocolError struct {
	Code int
}

func (e *ProtocolError) Error() string {
	switch e.Code {
	case RetServerUnavailable:
		return "irbis: server unavailable (-3)"
	case RetRecordDeleted:
		return "irbis: record logically deleted (-140)"
	case RetRecordLocked:
		return "irbis: record locked (-602)"
	case RetUnknownUser:
		return "irbis: unknown user (-600)"
	case RetBadPassword:
		return "irbis: bad password (-601)"
	default:
		return fmt.Sprintf("irbis: server error (%d)", e.Code)
	}
}

// ErrNotConnected is returned for commands before Connect.
var ErrNotConnected = errors.New("irbis: not connected")

// Connector is the protocol surface the service layer composes. The TCP
// client and the in-memory mock both implement it.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool

	// Search evaluates an index expression and returns matching MFNs.
	Search(ctx context.Context, database, expression string) ([]int, error)

	// ReadRecord fetches a record by MFN.
	ReadRecord(ctx context.Context, database string, mfn int) (*Record, error)

	// WriteRecord stores a record back, actualizing it.
	WriteRecord(ctx context.Context, database string, rec *Record) error

	// FormatRecord applies a display format to a record.
	FormatRecord(ctx context.Context, database string, mfn int, format string) (string, error)
}

// Client is the TCP connector. Each command is one request/response
// exchange on a fresh connection, the way the server expects; Connect and
// Disconnect bracket them with registration.
type Client struct {
	cfg config.IrbisConfig
	log *zap.Logger

	mu        sync.Mutex
	connected bool
	clientID  int
	seq       int
}

// NewClient builds a TCP connector from configuration.
func NewClient(cfg config.IrbisConfig, log *zap.Logger) *Client {
	return &Client{cfg: cfg, log: log}
}

// Connect registers the client on the server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.clientID = 100000 + rand.Intn(900000)
	c.seq = 0
	c.connected = true // execute requires the registered state
	c.mu.Unlock()

	_, _, err := c.execute(ctx, cmdRegister, []string{c.cfg.Username, c.cfg.Password})
	if err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return err
	}
	c.log.Info("irbis connected",
		zap.String("host", c.cfg.Host), zap.Int("port", c.cfg.Port))
	return nil
}

// Disconnect unregisters the client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, _, err := c.execute(ctx, cmdUnregister, []string{c.cfg.Username})
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return err
}

// Connected reports the registration state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Search evaluates an index expression; the return code carries the found
// count and the body lines carry "mfn#..." entries.
func (c *Client) Search(ctx context.Context, database, expression string) ([]int, error) {
	_, body, err := c.execute(ctx, cmdSearch, []string{database, expression, "0", "1"})
	if err != nil {
		return nil, err
	}
	var mfns []int
	for _, line := range body {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		numPart := line
		if hash := strings.IndexByte(line, '#'); hash >= 0 {
			numPart = line[:hash]
		}
		if mfn, err := strconv.Atoi(numPart); err == nil && mfn > 0 {
			mfns = append(mfns, mfn)
		}
	}
	return mfns, nil
}

// ReadRecord fetches one record by MFN.
func (c *Client) ReadRecord(ctx context.Context, database string, mfn int) (*Record, error) {
	_, body, err := c.execute(ctx, cmdReadRecord, []string{database, strconv.Itoa(mfn)})
	if err != nil {
		return nil, err
	}
	rec := ParseRecordLines(body)
	if rec.MFN == 0 {
		rec.MFN = mfn
	}
	return rec, nil
}

// WriteRecord stores a record, locking off and actualizing on.
func (c *Client) WriteRecord(ctx context.Context, database string, rec *Record) error {
	recordText := strings.Join(rec.FormatRecordLines(), recordLineDelimiter)
	_, _, err := c.execute(ctx, cmdWriteRecord, []string{database, "0", "1", recordText})
	return err
}

// FormatRecord applies a display format to a record.
func (c *Client) FormatRecord(ctx context.Context, database string, mfn int, format string) (string, error) {
	_, body, err := c.execute(ctx, cmdFormat, []string{database, format, "1", strconv.Itoa(mfn)})
	if err != nil {
		return "", err
	}
	return strings.Join(body, "\n"), nil
}

// execute performs one request/response exchange. The request is the
// CRLF-joined header and parameter lines, length-prefixed by its byte
// count; the response is "[return_code]\r\n[body]".
func (c *Client) execute(ctx context.Context, command string, params []string) (int, []string, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return 0, nil, ErrNotConnected
	}
	c.seq++
	seq := c.seq
	clientID := c.clientID
	c.mu.Unlock()

	lines := []string{
		command,
		workstationCode,
		command,
		strconv.Itoa(clientID),
		strconv.Itoa(seq),
		c.cfg.Password,
		c.cfg.Username,
		"", "", "",
	}
	lines = append(lines, params...)
	payload := strings.Join(lines, "\r\n")
	request := fmt.Sprintf("%d\r\n%s", len(payload), payload)

	dialer := net.Dialer{Timeout: connectTimeout}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, nil, &ProtocolError{Code: RetServerUnavailable}
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(readTimeout))
	if _, err := conn.Write([]byte(request)); err != nil {
		return 0, nil, &ProtocolError{Code: RetServerUnavailable}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}

	var response strings.Builder
	reader := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		response.Write(buf[:n])
		if err != nil {
			break
		}
	}

	respLines := strings.Split(response.String(), "\r\n")
	if len(respLines) == 0 || strings.TrimSpace(respLines[0]) == "" {
		return 0, nil, &ProtocolError{Code: RetServerUnavailable}
	}
	code, err := strconv.Atoi(strings.TrimSpace(respLines[0]))
	if err != nil {
		return 0, nil, fmt.Errorf("irbis: malformed return code %q", respLines[0])
	}
	if code < 0 {
		return code, nil, &ProtocolError{Code: code}
	}
	return code, respLines[1:], nil
}
