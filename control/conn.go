package control

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxLineBytes bounds a single control record so a misbehaving peer
// cannot grow the read buffer without limit.
const maxLineBytes = 64 * 1024

// Conn wraps a stream connection with control-message framing.
//
// Reads and writes are independently safe for concurrent use; writes
// are serialized by an internal mutex, reads are expected from a
// single reader goroutine.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewConn wraps an established stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: bufio.NewReaderSize(c, maxLineBytes),
	}
}

// Dial connects to a control endpoint.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control channel %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// ReadMessage returns the next well-formed control message. Malformed
// and oversized records are logged and skipped without closing the
// connection; only I/O errors are returned.
func (c *Conn) ReadMessage() (Message, error) {
	for {
		line, err := c.readRecord()
		if err != nil {
			return nil, err
		}
		if line == nil {
			// Oversized record discarded.
			continue
		}

		msg, err := Decode(line)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "ReadMessage",
				"remote_addr": c.conn.RemoteAddr().String(),
				"error":       err.Error(),
			}).Warn("Discarding malformed control message")
			continue
		}
		return msg, nil
	}
}

// readRecord returns the next newline-terminated record, valid until
// the following read. A record exceeding maxLineBytes is drained to its
// terminating newline without ever being held in memory, and nil is
// returned so the caller moves on to the next record.
func (c *Conn) readRecord() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	if err == nil {
		return line, nil
	}
	if err != bufio.ErrBufferFull {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "readRecord",
		"remote_addr": c.conn.RemoteAddr().String(),
		"max_bytes":   maxLineBytes,
	}).Warn("Discarding oversized control record")

	for {
		if _, err := c.reader.ReadSlice('\n'); err == nil {
			return nil, nil
		} else if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
}

// WriteMessage sends one control message.
func (c *Conn) WriteMessage(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write control message: %w", err)
	}
	return nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection, unblocking any pending read.
func (c *Conn) Close() error {
	return c.conn.Close()
}
