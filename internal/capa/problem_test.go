package capa_test

import (
	"strings"
	"testing"

	"github.com/mind-engage/capa-engine/internal/capa"
)

func TestCorruptionReportSkipsDynamath(t *testing.T) {
	got := capa.CorruptionReport(map[string]any{
		"p_2_1":              "blue",
		"p_2_1_dynamath":     `\frac{1}{2}`,
		"input_dynamath_3_1": "x^2",
	})
	if got != "p_2_1=blue" {
		t.Fatalf("report = %q, want only the visible answer", got)
	}
}

func TestCorruptionReportEscapesMarkup(t *testing.T) {
	got := capa.CorruptionReport(map[string]any{"p_2_1": `<b>"hi"</b>`})
	if strings.Contains(got, "<b>") {
		t.Fatalf("report not escaped: %q", got)
	}
	if !strings.Contains(got, "&lt;b&gt;") {
		t.Fatalf("report missing escaped markup: %q", got)
	}
}
