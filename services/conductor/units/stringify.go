// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package units

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stringify renders a unit payload as prompt text.
//
// Strings pass through. Rows and passages render one per line. Slices are
// rendered element-wise. Maps and structs fall back to compact JSON, then
// to fmt.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case error:
		return x.Error()
	case []string:
		return strings.Join(x, "\n")
	case []Row:
		lines := make([]string, len(x))
		for i, r := range x {
			lines[i] = r.String()
		}
		return strings.Join(lines, "\n")
	case []Passage:
		lines := make([]string, len(x))
		for i, p := range x {
			lines[i] = p.String()
		}
		return strings.Join(lines, "\n\n")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, "\n")
	case fmt.Stringer:
		return x.String()
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(x)
	}

	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

// String renders a row as "<RFC3339 time> <measurement>.<field>=<value>".
func (r Row) String() string {
	name := r.Field
	if r.Measurement != "" {
		name = r.Measurement + "." + r.Field
	}
	var value string
	switch v := r.Value.(type) {
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		value = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s %s=%s", r.Time.UTC().Format(time.RFC3339), name, value)
}

// String renders a passage with its source.
func (p Passage) String() string {
	if p.Source == "" {
		return p.Content
	}
	return fmt.Sprintf("[%s] %s", p.Source, p.Content)
}
