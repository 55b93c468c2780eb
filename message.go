package coap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Message encode/decode errors (spec.md section 7).
var (
	ErrInvalidVersion  = errors.New("coap: invalid protocol version")
	ErrShortPacket     = errors.New("coap: packet shorter than fixed header")
	ErrDuplicateOption = errors.New("coap: duplicate option number")
	ErrPayloadNoCode   = errors.New("coap: non-empty payload requires non-zero code")
)

// CType is the message transaction type.
type CType uint8

const (
	// Confirmable messages require acknowledgement and are retransmitted
	// until one arrives.
	Confirmable CType = 0
	// NonConfirmable messages are sent once; no acknowledgement is
	// expected.
	NonConfirmable CType = 1
	// Acknowledgement responds to a Confirmable message.
	Acknowledgement CType = 2
	// Reset indicates the receiver could not process a Confirmable
	// message.
	Reset CType = 3
)

var typeNames = [...]string{"CON", "NON", "ACK", "RST"}

func (t CType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("CType(%d)", uint8(t))
}

// CCode is the request method or response code of a message.
type CCode uint8

// Request method codes.
const (
	GET    CCode = 1
	POST   CCode = 2
	PUT    CCode = 3
	DELETE CCode = 4
)

// Response codes (spec.md section 6, code registry).
const (
	Continue            CCode = 40
	OK                  CCode = 80
	Created             CCode = 81
	NotModified         CCode = 124
	BadRequest          CCode = 160
	NotFound            CCode = 164
	MethodNotAllowed    CCode = 165
	UnsupportedMedia    CCode = 175
	InternalServerError CCode = 200
	BadGateway          CCode = 202
	GatewayTimeout      CCode = 204
)

var codeNames = map[CCode]string{
	GET:                 "GET",
	POST:                "POST",
	PUT:                 "PUT",
	DELETE:              "DELETE",
	Continue:            "100-Continue",
	OK:                  "200-OK",
	Created:             "201-Created",
	NotModified:         "304-Not-Modified",
	BadRequest:          "400-Bad-Request",
	NotFound:            "404-Not-Found",
	MethodNotAllowed:    "405-Method-Not-Allowed",
	UnsupportedMedia:    "415-Unsupported-Media-Type",
	InternalServerError: "500-Internal-Server-Error",
	BadGateway:          "502-Bad-Gateway",
	GatewayTimeout:      "504-Gateway-Timeout",
}

func (c CCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("%d", uint8(c))
}

// protocolVersion is the fixed CoAP version this codec understands.
const protocolVersion = 1

// Message is a CoAP message: header, sorted options, and payload. The
// transaction id is not part of Message; it is supplied by the endpoint
// at pack time (spec.md section 3).
type Message struct {
	Type    CType
	Code    CCode
	Payload []byte

	opts map[OptionNumber]Option
}

// MessageOption is a functional option applied by NewMessage, mirroring
// coapy's OptionKeywords convenience constructors.
type MessageOption func(*Message) error

// NewMessage builds a Message. If payload is non-empty, code must be
// non-zero (spec.md section 3 invariant); if code is zero, payload must
// be empty.
func NewMessage(t CType, code CCode, payload []byte, opts ...MessageOption) (*Message, error) {
	if len(payload) > 0 && code == 0 {
		return nil, ErrPayloadNoCode
	}
	m := &Message{Type: t, Code: code, Payload: payload, opts: make(map[OptionNumber]Option)}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithContentType sets the Content-Type option.
func WithContentType(mt MediaType) MessageOption {
	return func(m *Message) error {
		m.SetOption(NewContentTypeOption(mt))
		return nil
	}
}

// WithMaxAge sets the Max-Age option.
func WithMaxAge(seconds uint32) MessageOption {
	return func(m *Message) error {
		m.SetOption(NewMaxAgeOption(seconds))
		return nil
	}
}

// WithURIScheme sets the Uri-Scheme option.
func WithURIScheme(scheme string) MessageOption {
	return func(m *Message) error {
		o, err := NewURISchemeOption(scheme)
		if err != nil {
			return err
		}
		m.SetOption(o)
		return nil
	}
}

// WithURIAuthority sets the Uri-Authority option.
func WithURIAuthority(authority string) MessageOption {
	return func(m *Message) error {
		o, err := NewURIAuthorityOption(authority)
		if err != nil {
			return err
		}
		m.SetOption(o)
		return nil
	}
}

// WithURIPath sets the Uri-Path option.
func WithURIPath(path string) MessageOption {
	return func(m *Message) error {
		o, err := NewURIPathOption(strings.TrimPrefix(path, "/"))
		if err != nil {
			return err
		}
		m.SetOption(o)
		return nil
	}
}

// WithLocation sets the Location option.
func WithLocation(location string) MessageOption {
	return func(m *Message) error {
		o, err := NewLocationOption(location)
		if err != nil {
			return err
		}
		m.SetOption(o)
		return nil
	}
}

// WithEtag sets the Etag option.
func WithEtag(etag []byte) MessageOption {
	return func(m *Message) error {
		o, err := NewEtagOption(etag)
		if err != nil {
			return err
		}
		m.SetOption(o)
		return nil
	}
}

// Options returns the message's options sorted ascending by number.
func (m *Message) Options() []Option {
	out := make([]Option, 0, len(m.opts))
	for _, o := range m.opts {
		out = append(out, o)
	}
	sort.Stable(byOptionNumber(out))
	return out
}

// FindOption returns the option with the given number, and whether it
// was present.
func (m *Message) FindOption(number OptionNumber) (Option, bool) {
	o, ok := m.opts[number]
	return o, ok
}

// SetOption replaces any existing option with the same number (spec.md
// section 3: at most one instance per option number).
func (m *Message) SetOption(o Option) {
	if m.opts == nil {
		m.opts = make(map[OptionNumber]Option)
	}
	m.opts[o.Number] = o
}

// AddOption adds a new option instance. It returns ErrDuplicateOption if
// an option of the same number is already present: this codec resolves
// the "multi-instance options" design note by rejecting a second
// instance explicitly rather than silently discarding it, since spec.md's
// data model states the option set holds at most one instance per number.
func (m *Message) AddOption(o Option) error {
	if m.opts == nil {
		m.opts = make(map[OptionNumber]Option)
	}
	if _, exists := m.opts[o.Number]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOption, o.Number)
	}
	m.opts[o.Number] = o
	return nil
}

// RemoveOption deletes the option with the given number, if present.
func (m *Message) RemoveOption(number OptionNumber) {
	delete(m.opts, number)
}

// URI reconstructs scheme://authority/path from the Uri-Scheme,
// Uri-Authority and Uri-Path options, mirroring coapy's build_uri.
// When explicit is true, defaults are rendered even if the
// corresponding option was never set.
func (m *Message) URI(explicit bool) string {
	var b strings.Builder
	scheme, hasScheme := m.FindOption(UriScheme)
	if hasScheme {
		b.WriteString(scheme.Text())
		b.WriteString(":")
	} else if explicit {
		b.WriteString("coap:")
	}
	authority, hasAuthority := m.FindOption(UriAuthority)
	if hasAuthority {
		b.WriteString("//")
		b.WriteString(authority.Text())
	} else if explicit {
		b.WriteString("//")
	}
	path := ""
	if p, ok := m.FindOption(UriPath); ok {
		path = p.Text()
	}
	b.WriteString("/")
	b.WriteString(path)
	return b.String()
}

func (m *Message) String() string {
	head := m.Type.String()
	if m.Code != 0 {
		head += "+" + m.Code.String()
	}
	parts := []string{head}
	if uri := m.URI(false); uri != "/" {
		parts = append(parts, uri)
	}
	return strings.Join(parts, " ")
}

// Pack produces the wire-format byte sequence for this message using the
// supplied transaction id (spec.md section 4.3). The transaction id is
// not stored on the Message; it is assigned by the caller (typically the
// endpoint, at send time).
func (m *Message) Pack(transactionID uint16) ([]byte, error) {
	numOptions, packedOptions, err := EncodeOptions(m.Options(), true)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	header[0] = (protocolVersion << 6) | (uint8(m.Type) << 4) | (uint8(numOptions) & 0x0F)
	header[1] = uint8(m.Code)
	binary.BigEndian.PutUint16(header[2:4], transactionID)

	out := make([]byte, 0, 4+len(packedOptions)+len(m.Payload))
	out = append(out, header...)
	out = append(out, packedOptions...)
	if m.Code != 0 {
		out = append(out, m.Payload...)
	}
	return out, nil
}

// Unpack decodes a wire-format packet into (transaction id, Message)
// (spec.md section 4.3).
func Unpack(data []byte) (uint16, *Message, error) {
	if len(data) < 4 {
		return 0, nil, ErrShortPacket
	}
	if data[0]>>6 != protocolVersion {
		return 0, nil, ErrInvalidVersion
	}
	t := CType((data[0] >> 4) & 0x03)
	numOptions := int(data[0] & 0x0F)
	code := CCode(data[1])
	transactionID := binary.BigEndian.Uint16(data[2:4])

	opts, rest, err := DecodeOptions(numOptions, data[4:])
	if err != nil {
		return 0, nil, err
	}

	m := &Message{Type: t, Code: code, Payload: rest, opts: make(map[OptionNumber]Option, len(opts))}
	if code == 0 {
		m.Payload = nil
	}
	for _, o := range opts {
		m.opts[o.Number] = o
	}
	return transactionID, m, nil
}
