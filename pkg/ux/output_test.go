// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		if got := icon.Render(); !strings.Contains(got, string(icon)) {
			t.Errorf("Render(%q) = %q, missing glyph", icon, got)
		}
	}
	if IconBullet.Render() != "•" {
		t.Errorf("unstyled icon should render as is")
	}
}

func TestPlainPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("Run report")
	p.Success("greet done")
	p.Warning("slow node")
	p.Error("prices failed")
	p.Status(IconPending, "report skipped")
	p.KeyValue("graph", "pipeline")
	p.Lines([]string{"a (echo)", "  b (prompt)"})
	p.Lines(nil)

	want := strings.Join([]string{
		"Run report",
		"OK: greet done",
		"WARN: slow node",
		"ERROR: prices failed",
		"SKIP: report skipped",
		"graph:       pipeline",
		"a (echo)",
		"  b (prompt)",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("plain output mismatch:\ngot:\n%s\nwant:\n%s", buf.String(), want)
	}
	if p.Styled() {
		t.Error("plain printer reports styled")
	}
	if p.Muted("x") != "x" {
		t.Error("plain Muted should not alter text")
	}
}

func TestStyledPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewStyledPrinter(&buf)

	p.Success("done")
	p.Error("failed")

	out := buf.String()
	if !strings.Contains(out, "✓") || !strings.Contains(out, "✗") {
		t.Errorf("styled output missing icons: %q", out)
	}
	if strings.Contains(out, "OK:") {
		t.Errorf("styled output should not use plain prefixes: %q", out)
	}
	if p.Writer() != &buf {
		t.Error("Writer should return destination")
	}
}

func TestNewPrinter_NotTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if NewPrinter(f).Styled() {
		t.Error("printer for a regular file should be plain")
	}
}
