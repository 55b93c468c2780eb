package coap

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Option value encoding errors (spec.md section 7, "argument-validation
// failure").
var (
	ErrOptionValueOutOfRange = errors.New("coap: option value out of range")
	ErrOptionLeadingSlash    = errors.New("coap: option value must not start with '/'")
	ErrOptionTooLong         = errors.New("coap: option value too long")
	ErrTooManyOptions        = errors.New("coap: too many options for 4-bit count field")
	ErrOptionGapTooLarge     = errors.New("coap: option gap overflowed while fence-posting")
)

// UnrecognizedCriticalOptionError is returned by DecodeOptions when a
// critical (odd-numbered) option is not present in the registry.
type UnrecognizedCriticalOptionError struct {
	Number OptionNumber
	Value  []byte
}

func (e *UnrecognizedCriticalOptionError) Error() string {
	return fmt.Sprintf("coap: unrecognized critical option %d (% X)", e.Number, e.Value)
}

// OptionNumber identifies an option kind. Even numbers are elective,
// odd numbers are critical (spec.md section 3).
type OptionNumber uint8

// Registered option numbers (spec.md section 4.2 table).
const (
	ContentType  OptionNumber = 1
	MaxAge       OptionNumber = 2
	UriScheme    OptionNumber = 3
	Etag         OptionNumber = 4
	UriAuthority OptionNumber = 5
	Location     OptionNumber = 6
	UriPath      OptionNumber = 9
	Block        OptionNumber = 13
)

// optionTypeFencepost is the modulus used for fence-post entries in the
// option delta stream.
const optionTypeFencepost = 14

// IsElective reports whether an option number is elective (may be dropped
// silently if unrecognized) as opposed to critical.
func (n OptionNumber) IsElective() bool { return n%2 == 0 }

type optionDef struct {
	name           string
	minLen         int
	maxLen         int
	noLeadingSlash bool
	defaultPacked  []byte // nil means "no default"
}

var optionRegistry = map[OptionNumber]optionDef{
	ContentType:  {name: "Content-Type", minLen: 1, maxLen: 1, defaultPacked: []byte{0}},
	MaxAge:       {name: "Max-Age", minLen: 0, maxLen: 4, defaultPacked: packVlint(60)},
	UriScheme:    {name: "Uri-Scheme", minLen: 0, maxLen: 270, defaultPacked: []byte("coap")},
	Etag:         {name: "Etag", minLen: 1, maxLen: 4, defaultPacked: nil},
	UriAuthority: {name: "Uri-Authority", minLen: 0, maxLen: 270, defaultPacked: []byte("")},
	Location:     {name: "Location", minLen: 0, maxLen: 270, noLeadingSlash: true, defaultPacked: nil},
	UriPath:      {name: "Uri-Path", minLen: 0, maxLen: 270, noLeadingSlash: true, defaultPacked: []byte("")},
	Block:        {name: "Block", minLen: 0, maxLen: 2, defaultPacked: nil},
}

func (n OptionNumber) String() string {
	if def, ok := optionRegistry[n]; ok {
		return def.name
	}
	return fmt.Sprintf("Option(%d)", n)
}

// MediaType is the symbolic form of the Content-Type option value
// (spec.md section 6, media-type registry).
type MediaType uint8

// Registered media types.
const (
	TextPlain     MediaType = 0
	TextXML       MediaType = 1
	TextCSV       MediaType = 2
	TextHTML      MediaType = 3
	ImageGIF      MediaType = 21
	ImageJPEG     MediaType = 22
	ImagePNG      MediaType = 23
	ImageTIFF     MediaType = 24
	AudioRaw      MediaType = 25
	VideoRaw      MediaType = 26
	AppLinkFormat MediaType = 40
	AppXML        MediaType = 41
	AppOctets     MediaType = 42
	AppRDFXML     MediaType = 43
	AppSoapXML    MediaType = 44
	AppAtomXML    MediaType = 45
	AppXMPPXML    MediaType = 46
	AppEXI        MediaType = 47
	AppXBXML      MediaType = 48
	AppFastInfo   MediaType = 49
	AppSoapFast   MediaType = 50
	AppJSON       MediaType = 51
)

var mediaTypeNames = map[MediaType]string{
	TextPlain:     "text/plain",
	TextXML:       "text/xml",
	TextCSV:       "text/csv",
	TextHTML:      "text/html",
	ImageGIF:      "image/gif",
	ImageJPEG:     "image/jpeg",
	ImagePNG:      "image/png",
	ImageTIFF:     "image/tiff",
	AudioRaw:      "audio/raw",
	VideoRaw:      "video/raw",
	AppLinkFormat: "application/link-format",
	AppXML:        "application/xml",
	AppOctets:     "application/octet-stream",
	AppRDFXML:     "application/rdf+xml",
	AppSoapXML:    "application/soap+xml",
	AppAtomXML:    "application/atom+xml",
	AppXMPPXML:    "application/xmpp+xml",
	AppEXI:        "application/exi",
	AppXBXML:      "application/x-bxml",
	AppFastInfo:   "application/fastinfoset",
	AppSoapFast:   "application/soap+fastinfoset",
	AppJSON:       "application/json",
}

func (m MediaType) String() string {
	if s, ok := mediaTypeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MediaType(%d)", uint8(m))
}

// BlockValue is the decomposed form of a Block option (spec.md section
// 4.2, experimental block-wise transfer support).
type BlockValue struct {
	Num     uint32
	More    bool
	SizeExp uint8 // in [4, 11], block size is 2^SizeExp octets
}

func (b BlockValue) pack() uint64 {
	v := uint64(b.Num) << 4
	if b.More {
		v |= 0x08
	}
	v |= uint64(0x07 & (b.SizeExp - 4))
	return v
}

func unpackBlockValue(v uint64) BlockValue {
	return BlockValue{
		Num:     uint32(v >> 4),
		More:    (v & 0x08) != 0,
		SizeExp: 4 + uint8(v&0x07),
	}
}

// Option is an immutable, typed message option. Its canonical wire-form
// value is held in raw; typed accessors interpret it per its Number.
type Option struct {
	Number OptionNumber
	raw    []byte
}

func newRawOption(number OptionNumber, raw []byte) Option {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Option{Number: number, raw: cp}
}

func validateLen(number OptionNumber, n int) error {
	def, ok := optionRegistry[number]
	if !ok {
		return nil
	}
	if n < def.minLen || n > def.maxLen {
		return fmt.Errorf("%w: option %s length %d not in [%d,%d]", ErrOptionValueOutOfRange, number, n, def.minLen, def.maxLen)
	}
	return nil
}

// NewContentTypeOption builds a Content-Type option (#1).
func NewContentTypeOption(mt MediaType) Option {
	return newRawOption(ContentType, []byte{byte(mt)})
}

// NewMaxAgeOption builds a Max-Age option (#2), in seconds.
func NewMaxAgeOption(seconds uint32) Option {
	return newRawOption(MaxAge, packVlint(uint64(seconds)))
}

// NewURISchemeOption builds a Uri-Scheme option (#3).
func NewURISchemeOption(scheme string) (Option, error) {
	if err := validateLen(UriScheme, len(scheme)); err != nil {
		return Option{}, err
	}
	return newRawOption(UriScheme, []byte(scheme)), nil
}

// NewEtagOption builds an Etag option (#4), 1-4 opaque bytes.
func NewEtagOption(etag []byte) (Option, error) {
	if err := validateLen(Etag, len(etag)); err != nil {
		return Option{}, err
	}
	return newRawOption(Etag, etag), nil
}

// NewURIAuthorityOption builds a Uri-Authority option (#5).
func NewURIAuthorityOption(authority string) (Option, error) {
	if err := validateLen(UriAuthority, len(authority)); err != nil {
		return Option{}, err
	}
	return newRawOption(UriAuthority, []byte(authority)), nil
}

// NewLocationOption builds a Location option (#6). The value must not
// begin with a leading slash.
func NewLocationOption(location string) (Option, error) {
	if strings.HasPrefix(location, "/") {
		return Option{}, ErrOptionLeadingSlash
	}
	if err := validateLen(Location, len(location)); err != nil {
		return Option{}, err
	}
	return newRawOption(Location, []byte(location)), nil
}

// NewURIPathOption builds a Uri-Path option (#9). The value must not
// begin with a leading slash (it is always relative to the root).
func NewURIPathOption(path string) (Option, error) {
	if strings.HasPrefix(path, "/") {
		return Option{}, ErrOptionLeadingSlash
	}
	if err := validateLen(UriPath, len(path)); err != nil {
		return Option{}, err
	}
	return newRawOption(UriPath, []byte(path)), nil
}

// NewBlockOption builds a Block option (#13). sizeExp must be in [4, 11].
func NewBlockOption(b BlockValue) (Option, error) {
	if b.SizeExp < 4 || b.SizeExp > 11 {
		return Option{}, fmt.Errorf("%w: block size exponent %d not in [4,11]", ErrOptionValueOutOfRange, b.SizeExp)
	}
	return newRawOption(Block, packVlint(b.pack())), nil
}

// ContentType interprets the option's raw value as a media type.
func (o Option) ContentType() MediaType { return MediaType(unpackVlint(o.raw)) }

// MaxAge interprets the option's raw value as a Max-Age in seconds.
func (o Option) MaxAge() uint32 { return uint32(unpackVlint(o.raw)) }

// Text interprets the option's raw value as a UTF-8 string (Uri-Scheme,
// Uri-Authority, Location, Uri-Path).
func (o Option) Text() string { return string(o.raw) }

// Bytes returns the option's raw opaque value (Etag).
func (o Option) Bytes() []byte {
	cp := make([]byte, len(o.raw))
	copy(cp, o.raw)
	return cp
}

// BlockValue interprets the option's raw value as a Block field set.
func (o Option) BlockValue() BlockValue { return unpackBlockValue(unpackVlint(o.raw)) }

func (o Option) isDefault() bool {
	def, ok := optionRegistry[o.Number]
	if !ok || def.defaultPacked == nil {
		return false
	}
	if len(def.defaultPacked) != len(o.raw) {
		return false
	}
	for i := range o.raw {
		if o.raw[i] != def.defaultPacked[i] {
			return false
		}
	}
	return true
}

func (o Option) String() string {
	switch o.Number {
	case ContentType:
		return fmt.Sprintf("%s: %s", o.Number, o.ContentType())
	case MaxAge:
		return fmt.Sprintf("%s: %d", o.Number, o.MaxAge())
	case UriScheme, UriAuthority, Location, UriPath:
		return fmt.Sprintf("%s: %q", o.Number, o.Text())
	case Block:
		b := o.BlockValue()
		return fmt.Sprintf("%s: num=%d more=%v sizeExp=%d", o.Number, b.Num, b.More, b.SizeExp)
	default:
		return fmt.Sprintf("%s: % X", o.Number, o.raw)
	}
}

type byOptionNumber []Option

func (s byOptionNumber) Len() int           { return len(s) }
func (s byOptionNumber) Less(i, j int) bool { return s[i].Number < s[j].Number }
func (s byOptionNumber) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// EncodeOptions packs options into the delta/fence-post stream described
// in spec.md section 4.2. Options are sorted ascending by number; options
// equal to their registered default are skipped when skipDefaults is set.
// It returns the number of entries emitted (including fence-posts) and
// the packed bytes.
func EncodeOptions(opts []Option, skipDefaults bool) (int, []byte, error) {
	sorted := make([]Option, len(opts))
	copy(sorted, opts)
	sort.Stable(byOptionNumber(sorted))

	var out []byte
	typeVal := 0
	numOptions := 0

	for _, opt := range sorted {
		if skipDefaults && opt.isDefault() {
			continue
		}
		delta := int(opt.Number) - typeVal
		for delta > optionTypeFencepost {
			fencepost := optionTypeFencepost * ((typeVal + optionTypeFencepost) / optionTypeFencepost)
			fpDelta := fencepost - typeVal
			if fpDelta <= 0 {
				return 0, nil, ErrOptionGapTooLarge
			}
			out = append(out, byte(fpDelta<<4))
			numOptions++
			typeVal = fencepost
			delta = int(opt.Number) - typeVal
		}
		length := len(opt.raw)
		if length >= 15 {
			ext := length - 15
			if ext > 255 {
				return 0, nil, ErrOptionTooLong
			}
			out = append(out, byte((delta<<4)|15), byte(ext))
		} else {
			out = append(out, byte((delta<<4)|length))
		}
		out = append(out, opt.raw...)
		typeVal += delta
		numOptions++
	}
	if numOptions > 15 {
		return 0, nil, ErrTooManyOptions
	}
	return numOptions, out, nil
}

// DecodeOptions extracts numOptions entries (options and fence-posts)
// from the head of buf and returns the recognized options plus the
// remaining bytes (the message payload). Fence-post entries are
// discarded. An unrecognized critical option aborts decoding.
func DecodeOptions(numOptions int, buf []byte) ([]Option, []byte, error) {
	var opts []Option
	typeVal := 0

	for i := 0; i < numOptions; i++ {
		if len(buf) < 1 {
			return nil, nil, errors.New("coap: truncated option header")
		}
		delta := int(buf[0] >> 4)
		length := int(buf[0] & 0x0F)
		buf = buf[1:]
		if length == 15 {
			if len(buf) < 1 {
				return nil, nil, errors.New("coap: truncated option extended length")
			}
			length += int(buf[0])
			buf = buf[1:]
		}
		if len(buf) < length {
			return nil, nil, errors.New("coap: truncated option value")
		}
		value := buf[:length]
		buf = buf[length:]

		typeVal += delta
		if typeVal > 0 && typeVal%optionTypeFencepost == 0 {
			continue // fence-post, discard
		}

		number := OptionNumber(typeVal)
		if _, known := optionRegistry[number]; known {
			opts = append(opts, newRawOption(number, value))
			continue
		}
		if number.IsElective() {
			continue // unrecognized elective option, drop silently
		}
		return nil, nil, &UnrecognizedCriticalOptionError{Number: number, Value: append([]byte(nil), value...)}
	}
	return opts, buf, nil
}
