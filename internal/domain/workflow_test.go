package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func testWorkflow(t *testing.T) *Workflow {
	t.Helper()

	wf := NewWorkflow("test")
	wf.Steps["gen"] = &Step{
		ID:     "gen",
		Kind:   StepKindLLM,
		Status: StepStatusPending,
		Inputs: []InputSlot{
			{Name: "topic", Type: TypeList, From: "external:topics"},
		},
		Outputs: []OutputSlot{
			{Name: "answers", Type: TypeList},
		},
	}
	return wf
}

func TestBindOutput(t *testing.T) {
	wf := testWorkflow(t)

	item := NewDataItem("gen.answers", TypeList, "gen", "answers")
	item.Value = json.RawMessage(`[1, 2]`)
	if err := wf.BindOutput("gen", "answers", item); err != nil {
		t.Fatalf("BindOutput: %v", err)
	}

	out := wf.Steps["gen"].Output("answers")
	if out.ItemID == nil || *out.ItemID != item.ID {
		t.Errorf("output slot not bound to item %s", item.ID)
	}
	if _, ok := wf.Item(item.ID); !ok {
		t.Error("bound item not registered in workflow")
	}
}

func TestBindOutput_WriteOnce(t *testing.T) {
	wf := testWorkflow(t)

	first := NewDataItem("gen.answers", TypeList, "gen", "answers")
	if err := wf.BindOutput("gen", "answers", first); err != nil {
		t.Fatalf("BindOutput: %v", err)
	}

	second := NewDataItem("gen.answers", TypeList, "gen", "answers")
	err := wf.BindOutput("gen", "answers", second)
	if !errors.Is(err, ErrOutputSealed) {
		t.Errorf("rebinding a bound slot: got %v, want ErrOutputSealed", err)
	}
}

func TestBindOutput_SealedAfterCompletion(t *testing.T) {
	wf := testWorkflow(t)
	wf.Steps["gen"].MarkCompleted()

	item := NewDataItem("gen.answers", TypeList, "gen", "answers")
	err := wf.BindOutput("gen", "answers", item)
	if !errors.Is(err, ErrOutputSealed) {
		t.Errorf("binding output of a completed step: got %v, want ErrOutputSealed", err)
	}
}

func TestBindOutput_TypeMismatch(t *testing.T) {
	wf := testWorkflow(t)

	item := NewDataItem("gen.answers", TypeString, "gen", "answers")
	err := wf.BindOutput("gen", "answers", item)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("binding string to a list slot: got %v, want ErrTypeMismatch", err)
	}
}

func TestBindOutput_UnknownStepAndSlot(t *testing.T) {
	wf := testWorkflow(t)
	item := NewDataItem("x", TypeList, "gen", "x")

	if err := wf.BindOutput("missing", "answers", item); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("unknown step: got %v, want ErrUnknownStep", err)
	}
	if err := wf.BindOutput("gen", "missing", item); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("unknown slot: got %v, want ErrUnknownSlot", err)
	}
}

func TestBindInput(t *testing.T) {
	wf := testWorkflow(t)

	topics := NewExternalItem("topics", TypeList, json.RawMessage(`["a","b"]`))
	if err := wf.AddItem(topics); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := wf.BindInput("gen", "topic", topics.ID); err != nil {
		t.Fatalf("BindInput: %v", err)
	}

	got, ok := wf.InputItem("gen", "topic")
	if !ok || got.ID != topics.ID {
		t.Errorf("InputItem = %v, %v; want topics item", got, ok)
	}
	if !wf.Steps["gen"].InputsBound() {
		t.Error("InputsBound = false after binding the only input")
	}
}

func TestBindInput_ConstantCompatibleWithAnySlot(t *testing.T) {
	wf := testWorkflow(t)

	c := NewExternalItem("limit", TypeConstant, json.RawMessage(`5`))
	if err := wf.AddItem(c); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := wf.BindInput("gen", "topic", c.ID); err != nil {
		t.Errorf("binding a constant to a list slot: %v", err)
	}
}

func TestAddItem_Duplicate(t *testing.T) {
	wf := testWorkflow(t)

	item := NewExternalItem("topics", TypeList, json.RawMessage(`[]`))
	if err := wf.AddItem(item); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := wf.AddItem(item); !errors.Is(err, ErrDuplicateItem) {
		t.Errorf("second AddItem: got %v, want ErrDuplicateItem", err)
	}
}

func TestExternalItem(t *testing.T) {
	wf := testWorkflow(t)

	topics := NewExternalItem("topics", TypeList, json.RawMessage(`["a"]`))
	if err := wf.AddItem(topics); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	got, ok := wf.ExternalItem("topics")
	if !ok || got.ID != topics.ID {
		t.Errorf("ExternalItem(topics) = %v, %v", got, ok)
	}
	if _, ok := wf.ExternalItem("missing"); ok {
		t.Error("ExternalItem(missing) found a nonexistent item")
	}
}

func TestAllTerminalAndCounts(t *testing.T) {
	wf := testWorkflow(t)
	wf.Steps["post"] = &Step{ID: "post", Kind: StepKindCode, Status: StepStatusPending}

	if wf.AllTerminal() {
		t.Error("AllTerminal = true with pending steps")
	}

	wf.Steps["gen"].MarkCompleted()
	wf.Steps["post"].MarkFailed(NewFailure(FailureUpstream, errors.New("upstream failed")))

	if !wf.AllTerminal() {
		t.Error("AllTerminal = false with all steps terminal")
	}
	counts := wf.CountByStatus()
	if counts[StepStatusCompleted] != 1 || counts[StepStatusFailed] != 1 {
		t.Errorf("CountByStatus = %v", counts)
	}
}
