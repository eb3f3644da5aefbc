package problem_test

import (
	"net/url"
	"reflect"
	"testing"

	"github.com/mind-engage/capa-engine/internal/problem"
)

func TestMakeDictOfResponses(t *testing.T) {
	data := url.Values{
		"input_p_2_1":   {"blue"},
		"input_p_3_1[]": {"choice_0", "choice_2"},
		"input_p_4_1{}": {`{"answer": {"x": 1}}`},
	}
	got, err := problem.MakeDictOfResponses(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["p_2_1"] != "blue" {
		t.Fatalf("scalar = %v", got["p_2_1"])
	}
	if !reflect.DeepEqual(got["p_3_1"], []string{"choice_0", "choice_2"}) {
		t.Fatalf("list = %v", got["p_3_1"])
	}
	m, ok := got["p_4_1"].(map[string]any)
	if !ok {
		t.Fatalf("map = %T", got["p_4_1"])
	}
	if _, ok := m["answer"]; !ok {
		t.Fatalf("json map lost content: %v", m)
	}
}

func TestMakeDictOfResponsesListSuffixWinsOverMap(t *testing.T) {
	// A key ending "[]{}" is a list whose member name keeps the "{}".
	got, err := problem.MakeDictOfResponses(url.Values{"input_p_2_1{}[]": {"a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got["p_2_1{}"], []string{"a"}) {
		t.Fatalf("got %v", got)
	}
}

func TestMakeDictOfResponsesRejectsMissingUnderscore(t *testing.T) {
	if _, err := problem.MakeDictOfResponses(url.Values{"badkey": {"x"}}); err == nil {
		t.Fatalf("expected error for key without underscore")
	}
}

func TestMakeDictOfResponsesRejectsDuplicates(t *testing.T) {
	data := url.Values{
		"input_p_2_1":   {"a"},
		"input2_p_2_1":  {"b"},
	}
	if _, err := problem.MakeDictOfResponses(data); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestMakeDictOfResponsesBadJSON(t *testing.T) {
	if _, err := problem.MakeDictOfResponses(url.Values{"input_p_2_1{}": {"{nope"}}); err == nil {
		t.Fatalf("expected JSON decode error")
	}
}
