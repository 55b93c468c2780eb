package coap

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Link-format parsing errors (spec.md section 4.4).
var (
	ErrLinkMissingURI   = errors.New("coap: link-value missing angle-quoted URI")
	ErrLinkBadParamName = errors.New("coap: malformed link parameter name")
	ErrLinkBadParamVal  = errors.New("coap: malformed link parameter value")
)

// parameterValueSupport extracts and formats one shape of link-value
// attribute (spec.md section 4.4, parameter-value shapes).
type parameterValueSupport interface {
	decode(text string) (value string, rest string, ok bool)
	encode(value string) string
}

var (
	ptokenRe      = regexp.MustCompile(`^[!#$%&'()*+\-./0-9:<=>?@A-Za-z\[\]^_` + "`" + `{|}~]+`)
	dquoteRe      = regexp.MustCompile(`^"([^"]*)"`)
	angleQuoteRe  = regexp.MustCompile(`^<([^>]*)>`)
	integerRe     = regexp.MustCompile(`^([0-9]+)`)
	csIntegersRe  = regexp.MustCompile(`^([0-9]+(?:,[0-9]+)*)`)
	parmNameRe    = regexp.MustCompile("^([a-zA-Z0-9!#$&+.^_`|~-]+)(=)?")
)

type pvsPtoken struct{}

func (pvsPtoken) decode(text string) (string, string, bool) {
	m := ptokenRe.FindStringIndex(text)
	if m == nil {
		return "", text, false
	}
	return text[:m[1]], text[m[1]:], true
}
func (pvsPtoken) encode(value string) string { return value }

type pvsDQuotedString struct{}

func (pvsDQuotedString) decode(text string) (string, string, bool) {
	m := dquoteRe.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text, false
	}
	return text[m[2]:m[3]], text[m[1]:], true
}
func (pvsDQuotedString) encode(value string) string { return `"` + value + `"` }

type pvsUnknown struct{}

func (pvsUnknown) decode(text string) (string, string, bool) {
	if strings.HasPrefix(text, `"`) {
		return pvsDQuotedString{}.decode(text)
	}
	return pvsPtoken{}.decode(text)
}
func (pvsUnknown) encode(value string) string {
	if loc := ptokenRe.FindStringIndex(value); loc != nil && loc[1] == len(value) {
		return pvsPtoken{}.encode(value)
	}
	return pvsDQuotedString{}.encode(value)
}

type pvsInteger struct{}

func (pvsInteger) decode(text string) (string, string, bool) {
	m := integerRe.FindStringIndex(text)
	if m == nil {
		return "", text, false
	}
	return text[:m[1]], text[m[1]:], true
}
func (pvsInteger) encode(value string) string { return value }

type pvsCommaSeparatedIntegers struct{}

func (pvsCommaSeparatedIntegers) decode(text string) (string, string, bool) {
	m := csIntegersRe.FindStringIndex(text)
	if m == nil {
		return "", text, false
	}
	return text[:m[1]], text[m[1]:], true
}
func (pvsCommaSeparatedIntegers) encode(value string) string { return value }

// linkParameterDefinitions maps a parameter name to the value shape used
// to decode/encode it (spec.md section 4.4 parameter registry).
var linkParameterDefinitions = map[string]parameterValueSupport{
	"d":  pvsDQuotedString{},
	"sh": pvsDQuotedString{},
	"n":  pvsDQuotedString{},
	"ct": pvsCommaSeparatedIntegers{},
	"id": pvsInteger{},
}

var defaultLinkParameterSupport parameterValueSupport = pvsUnknown{}

func supportFor(name string) parameterValueSupport {
	if s, ok := linkParameterDefinitions[name]; ok {
		return s
	}
	return defaultLinkParameterSupport
}

// LinkValue is a single resource description from an
// application/link-format document (spec.md section 4.4).
type LinkValue struct {
	URI    string
	params map[string]string // raw decoded text per parameter name; "" marks a valueless flag
	hasKey map[string]bool
}

func newLinkValue(uri string) *LinkValue {
	return &LinkValue{URI: uri, params: map[string]string{}, hasKey: map[string]bool{}}
}

// Param returns the decoded text of the named parameter and whether it
// was present (and whether it carried a value at all).
func (l *LinkValue) Param(name string) (value string, hasValue bool, present bool) {
	v, present := l.params[name]
	return v, l.hasKey[name], present
}

// ContentTypes decodes the "ct" parameter as a list of integers, per
// spec.md's comma-separated-integers shape.
func (l *LinkValue) ContentTypes() ([]int, error) {
	raw, _, present := l.Param("ct")
	if !present || raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: ct=%q", ErrLinkBadParamVal, raw)
		}
		out = append(out, n)
	}
	return out, nil
}

// SetParam sets a parameter to a value that will be decoded by the
// registered shape for name (or the ptoken/dquoted fallback).
func (l *LinkValue) SetParam(name, value string) {
	l.params[name] = value
	l.hasKey[name] = true
}

// SetFlag sets a valueless parameter (e.g. ";obs").
func (l *LinkValue) SetFlag(name string) {
	l.params[name] = ""
	l.hasKey[name] = false
}

// decodeLinkValue parses one angle-quoted URI plus ";param[=value]"
// attributes from the head of text, returning the value and the
// unconsumed remainder.
func decodeLinkValue(text string) (*LinkValue, string, error) {
	m := angleQuoteRe.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, text, ErrLinkMissingURI
	}
	uri := text[m[2]:m[3]]
	text = text[m[1]:]
	lv := newLinkValue(uri)

	for strings.HasPrefix(text, ";") {
		text = text[1:]
		nm := parmNameRe.FindStringSubmatchIndex(text)
		if nm == nil {
			return nil, text, ErrLinkBadParamName
		}
		name := strings.ToLower(text[nm[2]:nm[3]])
		hasEquals := nm[4] != -1
		text = text[nm[1]:]
		if hasEquals {
			support := supportFor(name)
			value, rest, ok := support.decode(text)
			if !ok {
				return nil, text, fmt.Errorf("%w: %s=", ErrLinkBadParamVal, name)
			}
			text = rest
			if _, exists := lv.hasKey[name]; !exists {
				lv.SetParam(name, value)
			}
		} else {
			if _, exists := lv.hasKey[name]; !exists {
				lv.SetFlag(name)
			}
		}
	}
	return lv, text, nil
}

// Encode renders the link-value as its application/link-format text
// representation: the URI angle-quoted, followed by its attributes in
// ascending parameter-name order.
func (l *LinkValue) Encode() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(l.URI)
	b.WriteString(">")

	names := make([]string, 0, len(l.params))
	for k := range l.params {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteString(";")
		b.WriteString(name)
		if l.hasKey[name] {
			b.WriteString("=")
			b.WriteString(supportFor(name).encode(l.params[name]))
		}
	}
	return b.String()
}

// DecodeResourceDescriptions parses a comma-separated list of link-values
// (spec.md section 4.4), as served from /.well-known/r.
func DecodeResourceDescriptions(text string) ([]*LinkValue, error) {
	var links []*LinkValue
	for len(text) > 0 {
		lv, rest, err := decodeLinkValue(text)
		if err != nil {
			return nil, err
		}
		links = append(links, lv)
		text = rest
		if !strings.HasPrefix(text, ",") {
			break
		}
		text = text[1:]
	}
	return links, nil
}

// EncodeResourceDescriptions renders a set of link-values as a single
// application/link-format document.
func EncodeResourceDescriptions(links []*LinkValue) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = l.Encode()
	}
	return strings.Join(parts, ",")
}
