package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UnifiedDiff returns a simple line diff between two strings.
func UnifiedDiff(a, b string) string {
	if a == b {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteString("--- a\n")
	buf.WriteString("+++ b\n")
	al := strings.Split(a, "\n")
	bl := strings.Split(b, "\n")
	i, j := 0, 0
	for i < len(al) || j < len(bl) {
		if i < len(al) && j < len(bl) && al[i] == bl[j] {
			i++
			j++
			continue
		}
		if i < len(al) {
			fmt.Fprintf(&buf, "-%s\n", al[i])
			i++
		}
		if j < len(bl) {
			fmt.Fprintf(&buf, "+%s\n", bl[j])
			j++
		}
	}
	return buf.String()
}

// Diff returns the line diff between the indented JSON of two versions of name.
func Diff(ctx context.Context, s DocumentStore, name string, v1, v2 int) (string, error) {
	r1, err := s.Get(ctx, name, v1)
	if err != nil {
		return "", err
	}
	r2, err := s.Get(ctx, name, v2)
	if err != nil {
		return "", err
	}
	a, err := indent(r1.Data)
	if err != nil {
		return "", err
	}
	b, err := indent(r2.Data)
	if err != nil {
		return "", err
	}
	return UnifiedDiff(a, b), nil
}

func indent(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
