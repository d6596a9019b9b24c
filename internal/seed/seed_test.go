package seed

import (
	"testing"

	"github.com/shaiso/Canis/internal/domain"
)

func TestExpand_TwoTopics(t *testing.T) {
	spec := &domain.SeedSpec{
		Variables: map[string]domain.Variable{
			"topic": {Leaves: []string{"math", "history"}},
		},
	}

	assignments := Expand(spec)
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}
	if assignments[0]["topic"] != "math" || assignments[1]["topic"] != "history" {
		t.Errorf("unexpected assignments: %v", assignments)
	}
}

func TestExpand_CartesianProduct(t *testing.T) {
	spec := &domain.SeedSpec{
		Variables: map[string]domain.Variable{
			"topic": {Leaves: []string{"math", "history"}},
			"level": {Leaves: []string{"easy", "hard", "expert"}},
		},
	}

	assignments := Expand(spec)
	if len(assignments) != 6 {
		t.Fatalf("expected 6 assignments, got %d", len(assignments))
	}

	seen := make(map[string]bool)
	for _, a := range assignments {
		seen[a["topic"]+"/"+a["level"]] = true
	}
	if !seen["math/easy"] || !seen["history/expert"] {
		t.Errorf("missing combinations: %v", assignments)
	}
}

func TestExpand_BranchedVariable(t *testing.T) {
	spec := &domain.SeedSpec{
		Variables: map[string]domain.Variable{
			"topic": {Branches: map[string][]string{
				"algebra":  {"linear", "quadratic"},
				"geometry": {"euclidean"},
			}},
		},
	}

	assignments := Expand(spec)
	if len(assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(assignments))
	}

	// Отсортированный порядок веток: algebra, затем geometry.
	first := assignments[0]
	if first["topic_key"] != "algebra" || first["topic_value"] != "linear" {
		t.Errorf("unexpected first assignment: %v", first)
	}
	last := assignments[2]
	if last["topic_key"] != "geometry" || last["topic_value"] != "euclidean" {
		t.Errorf("unexpected last assignment: %v", last)
	}
}

func TestExpand_NoVariables(t *testing.T) {
	assignments := Expand(&domain.SeedSpec{})
	if len(assignments) != 1 {
		t.Fatalf("spec without variables must yield one empty assignment, got %d", len(assignments))
	}
}

func TestBuildRequests_TwoTopics(t *testing.T) {
	spec := &domain.SeedSpec{
		Variables: map[string]domain.Variable{
			"topic": {Leaves: []string{"math", "history"}},
		},
		Constants: map[string]string{
			"prompt": "Write a question about {topic}",
		},
		Call: domain.CallTemplate{
			Model:       "gpt-4o-mini",
			Temperature: 0.8,
			System:      "You write exam questions.",
		},
	}

	requests, err := BuildRequests(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", len(requests))
	}

	if requests[0].User != "Write a question about math" {
		t.Errorf("unexpected first request: %q", requests[0].User)
	}
	if requests[1].User != "Write a question about history" {
		t.Errorf("unexpected second request: %q", requests[1].User)
	}
	for i, req := range requests {
		if req.Index != i {
			t.Errorf("request %d has index %d", i, req.Index)
		}
		if req.Model != "gpt-4o-mini" || req.System != "You write exam questions." {
			t.Errorf("template not applied to request %d: %+v", i, req)
		}
	}
}

func TestBuildRequests_PromptAvailableToUserTemplate(t *testing.T) {
	spec := &domain.SeedSpec{
		Variables: map[string]domain.Variable{
			"topic": {Leaves: []string{"math"}},
		},
		Constants: map[string]string{
			"prompt":   "a question about {topic} in {language}",
			"language": "Russian",
		},
		Call: domain.CallTemplate{
			Model: "gpt-4o-mini",
			User:  "Please produce {prompt}.",
		},
	}

	requests, err := BuildRequests(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := requests[0].User; got != "Please produce a question about math in Russian." {
		t.Errorf("unexpected user message: %q", got)
	}
}

func TestBuildRequests_UnboundPlaceholder(t *testing.T) {
	spec := &domain.SeedSpec{
		Constants: map[string]string{
			"prompt": "about {missing}",
		},
		Call: domain.CallTemplate{Model: "gpt-4o-mini"},
	}

	if _, err := BuildRequests(spec); err == nil {
		t.Fatal("expected an error for unbound placeholder")
	}
}

func TestItems(t *testing.T) {
	spec := &domain.SeedSpec{
		Variables: map[string]domain.Variable{
			"topic": {Leaves: []string{"math"}},
		},
		Constants: map[string]string{
			"prompt": "write about {topic}",
			"style":  "formal",
		},
	}

	items, err := Items(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	byName := make(map[string]*domain.DataItem, len(items))
	for _, item := range items {
		if !item.IsExternal() {
			t.Errorf("seed item %s must be external", item.Name)
		}
		byName[item.Name] = item
	}

	if byName["topic"].Type != domain.TypeList {
		t.Errorf("variable must become a list item, got %s", byName["topic"].Type)
	}
	if byName["style"].Type != domain.TypeConstant {
		t.Errorf("constant must become a const item, got %s", byName["style"].Type)
	}
	if string(byName["topic"].Value) != `["math"]` {
		t.Errorf("unexpected variable value: %s", byName["topic"].Value)
	}
}
