package casestore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeKey maps every representation of a case number onto one
// canonical string: whitespace trimmed, a trailing decimal fraction dropped
// and leading zeros stripped from numeric keys. nil and empty input give "".
func NormalizeKey(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return normalizeKeyString(v)
	case json.Number:
		return normalizeKeyString(v.String())
	case int:
		return normalizeKeyString(strconv.FormatInt(int64(v), 10))
	case int32:
		return normalizeKeyString(strconv.FormatInt(int64(v), 10))
	case int64:
		return normalizeKeyString(strconv.FormatInt(v, 10))
	case uint:
		return normalizeKeyString(strconv.FormatUint(uint64(v), 10))
	case uint32:
		return normalizeKeyString(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return normalizeKeyString(strconv.FormatUint(v, 10))
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case fmt.Stringer:
		return normalizeKeyString(v.String())
	}
	return normalizeKeyString(fmt.Sprint(raw))
}

func normalizeFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return normalizeKeyString(strconv.FormatFloat(math.Trunc(v), 'f', 0, 64))
}

func normalizeKeyString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && isDigits(s[:i]) && isDigits(s[i+1:]) {
		s = s[:i]
		if s == "" {
			return "0"
		}
	}
	if isDigits(s) {
		s = strings.TrimLeft(s, "0")
		if s == "" {
			s = "0"
		}
	}
	return s
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
