// Package protocol defines the wire format spoken between the unprivileged
// mmrl client and the privileged mmrld host, over a Unix Domain Socket or
// over the stdio pipes of a host spawned through su.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// DefaultSocketPath is the canonical path for the host daemon's socket.
const DefaultSocketPath = "/data/adb/mmrl/mmrld.sock"

// Version is bumped whenever Message or Hello change incompatibly.
const Version = 1

// MaxMessageSize caps a single length-prefixed message.
const MaxMessageSize = 10 * 1024 * 1024

// Ack bytes sent by the host after evaluating a Hello.
const (
	AckAllowed byte = 0
	AckDenied  byte = 1
	AckPending byte = 2
)

// Kind tags a Message on the multiplexed connection.
type Kind byte

const (
	KindCall   Kind = 1
	KindReply  Kind = 2
	KindStdout Kind = 3
	KindStderr Kind = 4
	KindExit   Kind = 5
	KindUnbind Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	case KindStdout:
		return "stdout"
	case KindStderr:
		return "stderr"
	case KindExit:
		return "exit"
	case KindUnbind:
		return "unbind"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Identity holds the identity of the process that opened the connection.
type Identity struct {
	UID int `cbor:"1,keyasint"`
	GID int `cbor:"2,keyasint"`
	PID int `cbor:"3,keyasint"`
}

// Hello is the first message a client sends after connecting.
type Hello struct {
	Version  int      `cbor:"1,keyasint"`
	Client   string   `cbor:"2,keyasint"`
	Identity Identity `cbor:"3,keyasint"`
}

// Error is the failure carried by a reply. Code lets the receiving side
// rebuild a typed error; Message is free text.
type Error struct {
	Code    string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint,omitempty"`
	Op      string `cbor:"3,keyasint,omitempty"`
	Subject string `cbor:"4,keyasint,omitempty"`
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + " " + e.Subject + ": " + e.Message
	}
	return e.Message
}

// Message is one unit on the connection. Calls and their replies share
// an ID; stream messages (stdout, stderr, exit) carry the ID of the call
// that produced them and always precede its reply.
type Message struct {
	ID     uint64          `cbor:"1,keyasint"`
	Kind   Kind            `cbor:"2,keyasint"`
	Method string          `cbor:"3,keyasint,omitempty"`
	Body   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Error  *Error          `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the protocol's deterministic CBOR settings.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// writeValue writes v as [4-byte big-endian length][CBOR payload].
func writeValue(w io.Writer, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readValue reads a length-prefixed CBOR value into v.
func readValue(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}

	// Sanity check: reject absurdly large payloads
	if length > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// WriteHello sends the client's Hello.
func WriteHello(w io.Writer, h *Hello) error {
	return writeValue(w, h)
}

// ReadHello reads a client's Hello.
func ReadHello(r io.Reader) (*Hello, error) {
	var h Hello
	if err := readValue(r, &h); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	return &h, nil
}

// WriteMessage writes a single message. Callers sharing a writer across
// goroutines should use a Writer instead.
func WriteMessage(w io.Writer, m *Message) error {
	return writeValue(w, m)
}

// ReadMessage reads a single message. It returns io.EOF unwrapped when
// the peer closed the connection cleanly between messages.
func ReadMessage(r io.Reader) (*Message, error) {
	var m Message
	if err := readValue(r, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteAck sends a single ack byte to the writer.
func WriteAck(w io.Writer, ack byte) error {
	_, err := w.Write([]byte{ack})
	return err
}

// ReadAck reads a single ack byte from the reader.
func ReadAck(r io.Reader) (byte, error) {
	buf := make([]byte, 1)
	_, err := io.ReadFull(r, buf)
	return buf[0], err
}

// NewBody encodes v for use as a Message body.
func NewBody(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(data), nil
}

// DecodeBody decodes a message body into v. An empty body leaves v untouched.
func (m *Message) DecodeBody(v any) error {
	if len(m.Body) == 0 {
		return nil
	}
	return Unmarshal(m.Body, v)
}

// Writer serializes writes of whole messages from concurrent goroutines.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Send writes m atomically with respect to other Send calls.
func (w *Writer) Send(m *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriteMessage(w.w, m)
}

// SendExit writes an exit message for call id.
func (w *Writer) SendExit(id uint64, code int) error {
	body, err := NewBody(code)
	if err != nil {
		return err
	}
	return w.Send(&Message{ID: id, Kind: KindExit, Body: body})
}
