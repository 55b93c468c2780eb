package coap

import (
	"errors"
	"testing"
)

func TestEncodeOptionsDeltaAndLengthExtension(t *testing.T) {
	short, err := NewURIPathOption("1")
	if err != nil {
		t.Fatal(err)
	}
	if _, got, err := EncodeOptions([]Option{short}, false); err != nil || string(got) != "\x91\x31" {
		t.Fatalf("short Uri-Path got % X, err %v", got, err)
	}

	fourteen, err := NewURIPathOption("123456789abcde")
	if err != nil {
		t.Fatal(err)
	}
	_, got, err := EncodeOptions([]Option{fourteen}, false)
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x9E}, "123456789abcde"...)
	if string(got) != string(want) {
		t.Fatalf("14-byte Uri-Path got % X, want % X", got, want)
	}

	fifteen, err := NewURIPathOption("123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	_, got, err = EncodeOptions([]Option{fifteen}, false)
	if err != nil {
		t.Fatal(err)
	}
	want = append([]byte{0x9F, 0x00}, "123456789abcdef"...)
	if string(got) != string(want) {
		t.Fatalf("15-byte Uri-Path got % X, want % X", got, want)
	}
}

func TestEncodeOptionsMultiOption(t *testing.T) {
	ct := NewContentTypeOption(AppLinkFormat)
	maxAge := NewMaxAgeOption(30)
	path, err := NewURIPathOption("s")
	if err != nil {
		t.Fatal(err)
	}

	n, got, err := EncodeOptions([]Option{ct, maxAge, path}, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("numOptions = %d, want 3", n)
	}
	want := []byte{0x11, 0x28, 0x11, 0x1E, 0x71, 0x73}
	if string(got) != string(want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestOptionsRoundTripThroughDecode(t *testing.T) {
	ct := NewContentTypeOption(AppLinkFormat)
	maxAge := NewMaxAgeOption(30)
	path, err := NewURIPathOption("s")
	if err != nil {
		t.Fatal(err)
	}
	_, packed, err := EncodeOptions([]Option{ct, maxAge, path}, true)
	if err != nil {
		t.Fatal(err)
	}

	decoded, rest, err := DecodeOptions(3, packed)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected leftover bytes % X", rest)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d options, want 3", len(decoded))
	}
	byNum := map[OptionNumber]Option{}
	for _, o := range decoded {
		byNum[o.Number] = o
	}
	if byNum[ContentType].ContentType() != AppLinkFormat {
		t.Errorf("Content-Type = %v, want %v", byNum[ContentType].ContentType(), AppLinkFormat)
	}
	if byNum[MaxAge].MaxAge() != 30 {
		t.Errorf("Max-Age = %d, want 30", byNum[MaxAge].MaxAge())
	}
	if byNum[UriPath].Text() != "s" {
		t.Errorf("Uri-Path = %q, want %q", byNum[UriPath].Text(), "s")
	}
}

func TestDecodeOptionsFencepostSpan(t *testing.T) {
	ct := NewContentTypeOption(TextPlain)
	block, err := NewBlockOption(BlockValue{Num: 1, More: false, SizeExp: 4})
	if err != nil {
		t.Fatal(err)
	}
	// Option 30 is even (elective) and unregistered. Its gap of 17 from
	// Block (#13) needs fence-posts at 14 and 28 before it can be encoded.
	far := newRawOption(OptionNumber(30), []byte("x"))
	n, packed, err := EncodeOptions([]Option{ct, block, far}, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("numOptions = %d, want 5 (3 options + 2 fence-posts)", n)
	}
	want := []byte{0x11, 0x00, 0xC1, 0x10, 0x10, 0xE0, 0x21, 0x78}
	if string(packed) != string(want) {
		t.Fatalf("got % X, want % X", packed, want)
	}
	decoded, _, err := DecodeOptions(n, packed)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d options, want 2 (unregistered elective dropped)", len(decoded))
	}
}

func TestDecodeOptionsUnrecognizedCritical(t *testing.T) {
	// Option number 7 is odd (critical) and unregistered.
	packed := []byte{0x71, 0x00}
	_, _, err := DecodeOptions(1, packed)
	var uc *UnrecognizedCriticalOptionError
	if !errors.As(err, &uc) {
		t.Fatalf("got error %v, want *UnrecognizedCriticalOptionError", err)
	}
	if uc.Number != 7 {
		t.Errorf("Number = %d, want 7", uc.Number)
	}
}

func TestDecodeOptionsUnrecognizedElectiveDropped(t *testing.T) {
	// Option number 8 is even (elective) and unregistered; must be dropped
	// silently rather than erroring.
	packed := []byte{0x81, 0x00}
	decoded, _, err := DecodeOptions(1, packed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("decoded %d options, want 0 (elective dropped)", len(decoded))
	}
}

func TestLocationRejectsLeadingSlash(t *testing.T) {
	if _, err := NewLocationOption("/abs"); err == nil {
		t.Fatal("expected ErrOptionLeadingSlash")
	}
}
