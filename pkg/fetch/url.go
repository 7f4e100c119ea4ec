package fetch

import (
	"strconv"
	"strings"
)

// DefaultResizeParam and DefaultResizeValue form the "?sz=144" hint appended
// to every request.
const (
	DefaultResizeParam = "sz"
	DefaultResizeValue = 144
)

// NormalizeURL strips a resize hint from raw, cutting at the last "?<param>="
// or "&<param>=" occurrence, so that it undoes WithResizeHint. The result is the
// cache key for the image, so the same picture is never stored under
// differently sized URLs.
func NormalizeURL(raw, param string) string {
	raw = strings.TrimSpace(raw)
	if param == "" {
		return raw
	}
	i := max(strings.LastIndex(raw, "?"+param+"="), strings.LastIndex(raw, "&"+param+"="))
	if i < 0 {
		return raw
	}
	return raw[:i]
}

// WithResizeHint appends "?<param>=<value>" to raw, or "&<param>=<value>" when raw
// already carries a query. A hint that is already present is left as is.
func WithResizeHint(raw, param string, value int) string {
	if param == "" || value <= 0 {
		return raw
	}
	if strings.Contains(raw, "?"+param+"=") || strings.Contains(raw, "&"+param+"=") {
		return raw
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + param + "=" + strconv.Itoa(value)
}
