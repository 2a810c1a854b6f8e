package settings

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxRangeKeys limits the number of keys a single min..max range may produce.
const MaxRangeKeys = 100000

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	integerPattern    = regexp.MustCompile(`^-?[0-9]+$`)
	rangePattern      = regexp.MustCompile(`^(-?[0-9]+)\s*\.\.\s*(-?[0-9]+)$`)
)

// IsIdentifier reports whether name can be used as a parameter name.
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ExpandKey expands one mapping key: an identifier or integer yields itself,
// a min..max range yields every integer in the inclusive range.
func ExpandKey(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if identifierPattern.MatchString(key) {
		return []string{key}, nil
	}
	if integerPattern.MatchString(key) {
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		return []string{strconv.FormatInt(n, 10)}, nil
	}
	m := rangePattern.FindStringSubmatch(key)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	lo, errLo := strconv.ParseInt(m[1], 10, 64)
	hi, errHi := strconv.ParseInt(m[2], 10, 64)
	if errLo != nil || errHi != nil || lo > hi {
		return nil, fmt.Errorf("%w: bad range %q", ErrInvalidKey, key)
	}
	width := uint64(hi) - uint64(lo)
	if width >= MaxRangeKeys {
		return nil, fmt.Errorf("%w: range %q exceeds %d keys", ErrInvalidKey, key, MaxRangeKeys)
	}
	keys := make([]string, 0, width+1)
	for i := uint64(0); i <= width; i++ {
		keys = append(keys, strconv.FormatInt(lo+int64(i), 10))
	}
	return keys, nil
}

// ExpandKeys expands all keys in order and drops ignored ones.
func ExpandKeys(keys []string, ignored map[string]struct{}) ([]string, error) {
	var result []string
	for _, k := range keys {
		expanded, err := ExpandKey(k)
		if err != nil {
			return nil, err
		}
		for _, e := range expanded {
			if _, skip := ignored[e]; !skip {
				result = append(result, e)
			}
		}
	}
	return result, nil
}

// readList reads a key or enum item list from a file: either a JSON array of
// strings and numbers, or one entry per line where blank lines and lines
// starting with '#' are ignored.
func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if !gjson.ValidBytes(trimmed) {
			return nil, fmt.Errorf("%s: malformed JSON array", path)
		}
		var items []string
		gjson.ParseBytes(trimmed).ForEach(func(_, v gjson.Result) bool {
			items = append(items, listItem(v))
			return true
		})
		return items, nil
	}

	var items []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	return items, scanner.Err()
}

// listItem converts a JSON list element to its key text; integral numbers lose
// any fractional formatting.
func listItem(v gjson.Result) string {
	if v.Type == gjson.Number {
		if v.Num == float64(int64(v.Num)) {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return v.Raw
	}
	return v.String()
}
