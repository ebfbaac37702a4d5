// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package tracer

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	maxArrayElements = 100
	maxRedactDepth   = 5
	redactedValue    = "***REDACTED***"
)

var sensitiveKeyParts = []string{"password", "token", "secret", "apikey", "authorization"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// redactJSON renders v as JSON, then walks it redacting any field whose key
// contains a sensitive substring, truncating arrays past maxArrayElements,
// and stopping recursion past maxRedactDepth. A raw []byte renders as
// "[buffer]" rather than a base64 blob.
func redactJSON(v interface{}) string {
	if v == nil {
		return "null"
	}
	if _, ok := v.([]byte); ok {
		return `"[buffer]"`
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return `"[unmarshalable]"`
	}
	if !gjson.ValidBytes(raw) {
		return string(raw)
	}

	return redactValue(gjson.ParseBytes(raw), 0)
}

func redactValue(val gjson.Result, depth int) string {
	if depth >= maxRedactDepth {
		return collapsedPlaceholder(val)
	}

	switch {
	case val.IsObject():
		doc := "{}"
		val.ForEach(func(key, v gjson.Result) bool {
			k := key.String()
			var child string
			switch {
			case isSensitiveKey(k):
				child = `"` + redactedValue + `"`
			case v.IsArray() || v.IsObject():
				child = redactValue(v, depth+1)
			default:
				child = v.Raw
			}
			doc, _ = sjson.SetRaw(doc, escapeSjsonPath(k), child)
			return true
		})
		return doc

	case val.IsArray():
		arr := val.Array()
		truncated := len(arr) > maxArrayElements
		if truncated {
			arr = arr[:maxArrayElements]
		}
		doc := "[]"
		for i, elem := range arr {
			var child string
			if elem.IsArray() || elem.IsObject() {
				child = redactValue(elem, depth+1)
			} else {
				child = elem.Raw
			}
			doc, _ = sjson.SetRaw(doc, strconv.Itoa(i), child)
		}
		if truncated {
			doc, _ = sjson.Set(doc, "-1", "...truncated")
		}
		return doc

	default:
		return val.Raw
	}
}

// escapeSjsonPath backslash-escapes the path metacharacters sjson treats
// specially (".", "*", "?", "\\") so an object key containing one of them
// sets the right field instead of being parsed as a nested path or wildcard.
func escapeSjsonPath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapsedPlaceholder(val gjson.Result) string {
	switch {
	case val.IsObject():
		return `"[object]"`
	case val.IsArray():
		return `"[array]"`
	default:
		return val.Raw
	}
}
