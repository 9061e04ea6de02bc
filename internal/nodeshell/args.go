package nodeshell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/eugenetaranov/ledgerlink/internal/config"
)

// ArgEncoder turns flow arguments into the text that follows the flow name.
type ArgEncoder interface {
	// Encode serializes args.
	Encode(args map[string]string) (string, error)

	// Join appends the encoded arguments to the command prefix.
	Join(prefix, encoded string) string
}

// EncoderFor returns the encoder configured by name.
func EncoderFor(name string) (ArgEncoder, error) {
	switch name {
	case "", config.ArgEncodingQuoted:
		return QuotedEncoder{}, nil
	case config.ArgEncodingLegacy:
		return LegacyEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown argument encoding %q", name)
	}
}

var argKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidArgumentError reports a flow argument that cannot be encoded safely.
type InvalidArgumentError struct {
	Key    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid flow argument %q: %s", e.Key, e.Reason)
}

// QuotedEncoder writes `key: "value"` pairs separated by ", ", keys sorted.
// Values are double-quoted with backslash and quote escaped, so braces,
// colons and commas inside values reach the flow unchanged.
type QuotedEncoder struct{}

// Encode implements ArgEncoder.
func (QuotedEncoder) Encode(args map[string]string) (string, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		if !argKeyRe.MatchString(k) {
			return "", &InvalidArgumentError{Key: k, Reason: "key must be an identifier"}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		v := args[k]
		if strings.IndexFunc(v, unicode.IsControl) >= 0 {
			return "", &InvalidArgumentError{Key: k, Reason: "value contains control characters"}
		}
		tokens = append(tokens, k+": "+quote(v))
	}
	return strings.Join(tokens, ", "), nil
}

// Join implements ArgEncoder.
func (QuotedEncoder) Join(prefix, encoded string) string {
	if encoded == "" {
		return prefix
	}
	return prefix + " " + encoded
}

func quote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// LegacyEncoder reproduces the historical text mangling: the JSON form of
// the arguments with its first "{" and first "}" removed and every double
// quote turned into a space. Values containing braces, quotes or colons are
// corrupted; use QuotedEncoder unless a node was scripted against this form.
type LegacyEncoder struct{}

// Encode implements ArgEncoder.
func (LegacyEncoder) Encode(args map[string]string) (string, error) {
	if args == nil {
		args = map[string]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", fmt.Errorf("failed to serialize flow arguments: %w", err)
	}
	s := strings.TrimSuffix(buf.String(), "\n")
	s = strings.Replace(s, "{", "", 1)
	s = strings.Replace(s, "}", "", 1)
	return strings.ReplaceAll(s, `"`, " "), nil
}

// Join implements ArgEncoder. The separator is always written, even when
// there are no arguments.
func (LegacyEncoder) Join(prefix, encoded string) string {
	return prefix + " " + encoded
}
