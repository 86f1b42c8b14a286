// Package inject resolves literal text for delivery into a session.
//
// Text with shell-special characters cannot safely travel through the
// invoking shell as a command-line argument; the out-of-band path (a JSON
// document plus a dotted key path) delivers the exact bytes without the
// caller's shell ever interpreting them. This is the primary mechanism for
// passwords and similar payloads, not a workaround.
package inject

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors for key-path resolution.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrNotAString  = errors.New("value is not a string")
	ErrBadInput    = errors.New("exactly one of text or config+key is required")
)

// Resolve returns the text to send. Exactly one source must be supplied:
// either the literal text, or a JSON config file plus a dot-separated key
// path into it (e.g. "profiles.myserver.password").
func Resolve(text, configPath, keyPath string) (string, error) {
	haveLiteral := text != ""
	haveLookup := configPath != "" || keyPath != ""

	switch {
	case haveLiteral && haveLookup:
		return "", fmt.Errorf("%w: got both --text and --config/--key", ErrBadInput)
	case !haveLiteral && !haveLookup:
		return "", fmt.Errorf("%w: got neither", ErrBadInput)
	case haveLiteral:
		return text, nil
	case configPath == "" || keyPath == "":
		return "", fmt.Errorf("%w: --config and --key must be given together", ErrBadInput)
	}

	return FromFile(configPath, keyPath)
}

// FromFile loads a JSON document and walks it by the dot-separated key path,
// descending into nested objects one segment at a time.
func FromFile(configPath, keyPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return lookup(doc, keyPath)
}

func lookup(doc any, keyPath string) (string, error) {
	node := doc
	segments := strings.Split(keyPath, ".")
	for i, seg := range segments {
		obj, ok := node.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %q is not an object", ErrKeyNotFound, strings.Join(segments[:i], "."))
		}
		node, ok = obj[seg]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrKeyNotFound, strings.Join(segments[:i+1], "."))
		}
	}

	s, ok := node.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q resolves to %T", ErrNotAString, keyPath, node)
	}
	return s, nil
}
