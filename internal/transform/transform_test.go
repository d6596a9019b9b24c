package transform

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func decodeJSON(t *testing.T, data []byte) any {
	t.Helper()
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	return v
}

func TestMerge_LaterPrecedence(t *testing.T) {
	out, err := Merge([]json.RawMessage{
		raw(`{"a": 1}`),
		raw(`{"a": 2, "b": 3}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decodeJSON(t, []byte(`{"a": 2, "b": 3}`))
	if got := decodeJSON(t, out); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMerge_DeepUnionAndArrays(t *testing.T) {
	out, err := Merge([]json.RawMessage{
		raw(`{"meta": {"lang": "ru", "tags": ["a"]}, "n": 1}`),
		raw(`{"meta": {"rev": 2, "tags": ["b"]}}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decodeJSON(t, []byte(`{"meta": {"lang": "ru", "rev": 2, "tags": ["a", "b"]}, "n": 1}`))
	if got := decodeJSON(t, out); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMerge_Empty(t *testing.T) {
	out, err := Merge(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "{}" {
		t.Errorf("expected empty object, got %s", out)
	}
}

func TestMerge_NonObject(t *testing.T) {
	_, err := Merge([]json.RawMessage{raw(`[1, 2]`)})
	if !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue, got %v", err)
	}
}

func TestBind_TypePreserving(t *testing.T) {
	out, err := Bind(
		raw(`{"topics": "{topics}", "limit": "{limit}"}`),
		map[string]json.RawMessage{
			"topics": raw(`["math", "history"]`),
			"limit":  raw(`5`),
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decodeJSON(t, []byte(`{"topics": ["math", "history"], "limit": 5}`))
	if got := decodeJSON(t, out); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBind_TextSubstitution(t *testing.T) {
	out, err := Bind(
		raw(`{"prompt": "Write about {topic} in {n} words"}`),
		map[string]json.RawMessage{
			"topic": raw(`"history"`),
			"n":     raw(`100`),
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if got.Prompt != "Write about history in 100 words" {
		t.Errorf("unexpected prompt: %q", got.Prompt)
	}
}

func TestBind_UnboundPlaceholder(t *testing.T) {
	_, err := Bind(raw(`{"prompt": "{missing}"}`), nil)
	if !errors.Is(err, ErrUnboundPlaceholder) {
		t.Fatalf("expected ErrUnboundPlaceholder, got %v", err)
	}

	_, err = BindString("hello {missing}", nil)
	if !errors.Is(err, ErrUnboundPlaceholder) {
		t.Fatalf("expected ErrUnboundPlaceholder, got %v", err)
	}
}

func TestBind_NestedStructures(t *testing.T) {
	out, err := Bind(
		raw(`{"messages": [{"role": "user", "content": "{q}"}]}`),
		map[string]json.RawMessage{"q": raw(`"hi"`)},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decodeJSON(t, []byte(`{"messages": [{"role": "user", "content": "hi"}]}`))
	if got := decodeJSON(t, out); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCombine_PairsAndBroadcast(t *testing.T) {
	out, err := Combine(
		[]json.RawMessage{raw(`"system prompt"`)},
		[]json.RawMessage{raw(`["a"]`), raw(`["b", "c"]`)},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}

	want := decodeJSON(t, []byte(`["system prompt", "b", "c"]`))
	if got := decodeJSON(t, out[1]); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCombine_LengthMismatch(t *testing.T) {
	_, err := Combine(
		[]json.RawMessage{raw(`1`), raw(`2`)},
		[]json.RawMessage{raw(`[1]`), raw(`[2]`), raw(`[3]`)},
	)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestExpand(t *testing.T) {
	out := Expand(raw(`"x"`), 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 items, got %d", len(out))
	}
	for _, item := range out {
		if string(item) != `"x"` {
			t.Errorf("unexpected item: %s", item)
		}
	}

	if got := Expand(raw(`"x"`), 0); len(got) != 0 {
		t.Errorf("expected empty list, got %d items", len(got))
	}
}

func TestSegregate_EmptyInput(t *testing.T) {
	matched, unmatched, err := Segregate(nil, nil, "good")
	if err != nil {
		t.Fatalf("empty input must not fail: %v", err)
	}
	if len(matched) != 0 || len(unmatched) != 0 {
		t.Errorf("expected two empty lists, got %d and %d", len(matched), len(unmatched))
	}
}

func TestSegregate_Partition(t *testing.T) {
	items := []json.RawMessage{raw(`{"n": 1}`), raw(`{"n": 2}`), raw(`{"n": 3}`)}
	verdicts := []string{"good", "bad", "good"}

	matched, unmatched, err := Segregate(items, verdicts, "good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 2 || len(unmatched) != 1 {
		t.Fatalf("expected 2 matched and 1 unmatched, got %d and %d", len(matched), len(unmatched))
	}
	if string(unmatched[0]) != `{"n": 2}` {
		t.Errorf("unexpected unmatched item: %s", unmatched[0])
	}
}

func TestSegregate_VerdictMismatch(t *testing.T) {
	_, _, err := Segregate(
		[]json.RawMessage{raw(`{}`)},
		[]string{"a", "b"},
		"a",
	)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestGroups(t *testing.T) {
	items := []json.RawMessage{raw(`1`), raw(`2`), raw(`3`)}
	verdicts := []string{"a", "b", "weird"}

	groups, err := Groups(items, verdicts, []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups["a"]) != 1 || len(groups["b"]) != 1 {
		t.Errorf("unexpected group sizes: %v", groups)
	}
	if len(groups[""]) != 1 {
		t.Errorf("undeclared verdict must land in the unrecognized group, got %v", groups[""])
	}
}

func TestVerdicts(t *testing.T) {
	verdicts, err := Verdicts([]json.RawMessage{
		raw(`{"label": "good"}`),
		raw(`{"label": "bad"}`),
	}, "label")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(verdicts, []string{"good", "bad"}) {
		t.Errorf("unexpected verdicts: %v", verdicts)
	}

	_, err = Verdicts([]json.RawMessage{raw(`{"other": 1}`)}, "label")
	if !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue, got %v", err)
	}
}

func TestFinalize_SchemaValidation(t *testing.T) {
	schema := raw(`{
		"type": "object",
		"required": ["text"],
		"properties": {"text": {"type": "string"}}
	}`)

	items := []json.RawMessage{
		raw(`{"text": "ok"}`),
		raw(`{"text": 42}`),
		raw(`{"text": "also ok"}`),
	}

	ds, err := Finalize(items, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ds.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(ds.Records))
	}
	if len(ds.Rejections) != 1 || ds.Rejections[0].Index != 1 {
		t.Fatalf("expected a rejection at index 1, got %v", ds.Rejections)
	}

	// Нумерация принятых записей сплошная.
	if ds.Records[0].ID != 0 || ds.Records[1].ID != 1 {
		t.Errorf("record IDs must be contiguous, got %d and %d", ds.Records[0].ID, ds.Records[1].ID)
	}
}

func TestFinalize_NoSchema(t *testing.T) {
	ds, err := Finalize([]json.RawMessage{raw(`{"anything": true}`), raw(`"plain"`)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Records) != 2 || len(ds.Rejections) != 0 {
		t.Errorf("without a schema everything is accepted, got %d records and %d rejections",
			len(ds.Records), len(ds.Rejections))
	}
}

func TestFinalize_BadSchema(t *testing.T) {
	_, err := Finalize(nil, raw(`{"type": 17}`))
	if !errors.Is(err, ErrBadSchema) {
		t.Fatalf("expected ErrBadSchema, got %v", err)
	}
}

func TestFinalize_JSONL(t *testing.T) {
	ds, err := Finalize([]json.RawMessage{raw(`{"a": 1}`), raw(`{"b": 2}`)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := ds.MarshalJSONL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 JSONL lines, got %d", lines)
	}
}
