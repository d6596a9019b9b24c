package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/engine"
	"github.com/shaiso/Canis/internal/state"
)

// fakeService — batch-сервис для тестов: считает отправки
// и отдаёт заранее подготовленное удалённое состояние.
type fakeService struct {
	submits   int
	submitErr error

	remote    batch.Remote
	files     map[string]map[int]domain.RequestResult
	cancelled []string
}

func (f *fakeService) Submit(_ context.Context, _ string, _ []batch.Request) (*batch.Submission, error) {
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &batch.Submission{JobID: "batch-1", InputFileID: "file-in"}, nil
}

func (f *fakeService) Poll(_ context.Context, _ string) (*batch.Remote, error) {
	remote := f.remote
	return &remote, nil
}

func (f *fakeService) Fetch(_ context.Context, fileID string) (map[int]domain.RequestResult, error) {
	return f.files[fileID], nil
}

func (f *fakeService) Cancel(_ context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func newOrchestrator(t *testing.T, svc batch.Service, store state.Store) *Orchestrator {
	t.Helper()
	client := batch.NewClient(svc, batch.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	})
	var artifacts state.Artifacts
	if fs, ok := store.(*state.FileStore); ok {
		artifacts = fs
	}
	return New(Config{
		Store:     store,
		Artifacts: artifacts,
		Batch:     client,
		Logger:    slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
}

const askTemplate = `{"model": "gpt-4o-mini", "user": "{topic}"}`

// llmSpec — llm-шаг "gen" с зависимым code-шагом "assemble".
func llmSpec() *domain.GraphSpec {
	return &domain.GraphSpec{Steps: []domain.StepDef{
		{
			ID:       "gen",
			Kind:     domain.StepKindLLM,
			Template: []byte(askTemplate),
			Inputs: []domain.SlotDef{
				{Name: "topic", Type: domain.TypeList, From: "external:topics"},
			},
			Outputs: []domain.SlotDef{
				{Name: "answers", Type: domain.TypeList},
			},
		},
		{
			ID:   "assemble",
			Kind: domain.StepKindCode,
			Tool: "expand",
			Inputs: []domain.SlotDef{
				{Name: "single", Type: domain.TypeJSON, Const: []byte(`{"kind": "record"}`)},
				{Name: "data_to_adapt_to", Type: domain.TypeList, From: "gen.answers"},
			},
			Outputs: []domain.SlotDef{
				{Name: "expanded", Type: domain.TypeList},
			},
		},
	}}
}

func buildWorkflow(t *testing.T, name string, spec *domain.GraphSpec) *domain.Workflow {
	t.Helper()
	topics := domain.NewExternalItem("topics", domain.TypeList, []byte(`["cooking","travel"]`))
	wf, err := engine.BuildWorkflow(name, spec, []*domain.DataItem{topics})
	if err != nil {
		t.Fatalf("BuildWorkflow: %v", err)
	}
	return wf
}

func stepStatuses(wf *domain.Workflow) map[string]domain.StepStatus {
	statuses := make(map[string]domain.StepStatus, len(wf.Steps))
	for id, step := range wf.Steps {
		statuses[id] = step.Status
	}
	return statuses
}

func TestAdvance_CodeOnlyCompletesInOneTick(t *testing.T) {
	spec := &domain.GraphSpec{Steps: []domain.StepDef{
		{
			ID:   "combine",
			Kind: domain.StepKindCode,
			Tool: "merge",
			Inputs: []domain.SlotDef{
				{Name: "base", Type: domain.TypeJSON, Const: []byte(`{"x": 1}`)},
				{Name: "extra", Type: domain.TypeJSON, Const: []byte(`{"y": 2}`)},
			},
			Outputs: []domain.SlotDef{
				{Name: "merged", Type: domain.TypeJSON},
			},
		},
	}}
	wf, err := engine.BuildWorkflow("merge-run", spec, nil)
	if err != nil {
		t.Fatalf("BuildWorkflow: %v", err)
	}

	o := newOrchestrator(t, &fakeService{}, nil)
	res, err := o.Advance(context.Background(), wf)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if wf.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("workflow status = %s, want COMPLETED", wf.Status)
	}
	if !res.Terminal || res.Blocked {
		t.Errorf("result = %+v, want terminal and not blocked", res)
	}
	if len(res.Started) != 1 || len(res.Completed) != 1 {
		t.Errorf("started %v, completed %v, want one step each", res.Started, res.Completed)
	}
	step, _ := wf.Step("combine")
	out := step.Output("merged")
	if out == nil || out.ItemID == nil {
		t.Fatal("merged output not bound")
	}
	item, _ := wf.Item(*out.ItemID)
	if !bytes.Equal(item.Value, []byte(`{"x":1,"y":2}`)) {
		t.Errorf("merged = %s", item.Value)
	}
}

func TestAdvance_LLMLifecycle(t *testing.T) {
	svc := &fakeService{
		remote: batch.Remote{Status: domain.JobStatusInProgress},
	}
	o := newOrchestrator(t, svc, nil)
	wf := buildWorkflow(t, "llm-run", llmSpec())
	ctx := context.Background()

	// Первый такт: отправка batch'а.
	res, err := o.Advance(ctx, wf)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(res.Started) != 1 || res.Started[0] != "gen" {
		t.Fatalf("started = %v, want [gen]", res.Started)
	}
	gen, _ := wf.Step("gen")
	if gen.Status != domain.StepStatusRunning {
		t.Fatalf("gen status = %s, want RUNNING", gen.Status)
	}
	if gen.Job == nil || gen.Job.JobID != "batch-1" {
		t.Fatal("batch job not recorded on the step")
	}
	if gen.Job.RequestCount != 2 {
		t.Fatalf("request count = %d, want 2", gen.Job.RequestCount)
	}
	if wf.Status != domain.WorkflowStatusRunning {
		t.Fatalf("workflow status = %s, want RUNNING", wf.Status)
	}

	// Повторный такт без изменений снаружи ничего не меняет.
	before := stepStatuses(wf)
	res, err = o.Advance(ctx, wf)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if len(res.Started) != 0 || len(res.Completed) != 0 {
		t.Errorf("idle tick: started %v, completed %v", res.Started, res.Completed)
	}
	for id, st := range stepStatuses(wf) {
		if st != before[id] {
			t.Errorf("step %s transitioned %s -> %s without external change", id, before[id], st)
		}
	}
	if svc.submits != 1 {
		t.Fatalf("submits = %d, want 1", svc.submits)
	}

	// Сервис завершил задание: такт собирает выходы и зависимый шаг.
	svc.remote = batch.Remote{
		Status:       domain.JobStatusComplete,
		OutputFileID: "file-out",
		Completed:    2,
	}
	svc.files = map[string]map[int]domain.RequestResult{
		"file-out": {
			0: {Index: 0, Content: `{"text": "about cooking"}`},
			1: {Index: 1, Content: `{"text": "about travel"}`},
		},
	}
	res, err = o.Advance(ctx, wf)
	if err != nil {
		t.Fatalf("third Advance: %v", err)
	}
	if len(res.Completed) != 2 {
		t.Errorf("completed = %v, want both steps", res.Completed)
	}

	if gen.Status != domain.StepStatusCompleted {
		t.Fatalf("gen status = %s, want COMPLETED", gen.Status)
	}
	assemble, _ := wf.Step("assemble")
	if assemble.Status != domain.StepStatusCompleted {
		t.Fatalf("assemble status = %s, want COMPLETED", assemble.Status)
	}
	if wf.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("workflow status = %s, want COMPLETED", wf.Status)
	}

	out := gen.Output("answers")
	item, _ := wf.Item(*out.ItemID)
	want := `[{"text":"about cooking"},{"text":"about travel"}]`
	if string(item.Value) != want {
		t.Errorf("answers = %s, want %s", item.Value, want)
	}
}

// barrierService блокирует Submit до сигнала release, сообщая
// о каждой отправке в полёте через arrived.
type barrierService struct {
	fakeService
	arrived chan string
	release chan struct{}
}

func (b *barrierService) Submit(_ context.Context, name string, _ []batch.Request) (*batch.Submission, error) {
	b.arrived <- name
	<-b.release
	return &batch.Submission{JobID: "batch-" + name, InputFileID: "file-" + name}, nil
}

func TestAdvance_IndependentStepsDispatchedConcurrently(t *testing.T) {
	spec := &domain.GraphSpec{Steps: []domain.StepDef{
		{
			ID:       "left",
			Kind:     domain.StepKindLLM,
			Template: []byte(askTemplate),
			Inputs: []domain.SlotDef{
				{Name: "topic", Type: domain.TypeList, From: "external:topics"},
			},
			Outputs: []domain.SlotDef{{Name: "answers", Type: domain.TypeList}},
		},
		{
			ID:       "right",
			Kind:     domain.StepKindLLM,
			Template: []byte(askTemplate),
			Inputs: []domain.SlotDef{
				{Name: "topic", Type: domain.TypeList, From: "external:topics"},
			},
			Outputs: []domain.SlotDef{{Name: "answers", Type: domain.TypeList}},
		},
	}}
	wf := buildWorkflow(t, "parallel-run", spec)

	svc := &barrierService{
		arrived: make(chan string, 2),
		release: make(chan struct{}),
	}
	svc.remote = batch.Remote{Status: domain.JobStatusInProgress}
	o := newOrchestrator(t, svc, nil)

	advanced := make(chan error, 1)
	go func() {
		_, err := o.Advance(context.Background(), wf)
		advanced <- err
	}()

	// Обе отправки должны оказаться в полёте одновременно:
	// первая ещё заблокирована, когда приходит вторая.
	for i := 0; i < 2; i++ {
		select {
		case <-svc.arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("independent steps were dispatched sequentially")
		}
	}
	close(svc.release)

	if err := <-advanced; err != nil {
		t.Fatalf("Advance: %v", err)
	}
	for _, id := range []string{"left", "right"} {
		step, _ := wf.Step(id)
		if step.Status != domain.StepStatusRunning {
			t.Errorf("step %s status = %s, want RUNNING", id, step.Status)
		}
		if step.Job == nil || !step.Job.Submitted() {
			t.Errorf("step %s has no submitted job", id)
		}
	}
}

func TestAdvance_UpstreamFailurePropagates(t *testing.T) {
	svc := &fakeService{submitErr: errors.New("invalid request payload")}
	o := newOrchestrator(t, svc, nil)
	wf := buildWorkflow(t, "fail-run", llmSpec())

	if _, err := o.Advance(context.Background(), wf); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	gen, _ := wf.Step("gen")
	if gen.Status != domain.StepStatusFailed {
		t.Fatalf("gen status = %s, want FAILED", gen.Status)
	}
	if gen.Failure == nil || gen.Failure.Kind != domain.FailureSubmission {
		t.Fatalf("gen failure = %+v, want submission", gen.Failure)
	}

	assemble, _ := wf.Step("assemble")
	if assemble.Status != domain.StepStatusFailed {
		t.Fatalf("assemble status = %s, want FAILED", assemble.Status)
	}
	if assemble.Failure == nil || assemble.Failure.Kind != domain.FailureUpstream {
		t.Fatalf("assemble failure = %+v, want upstream", assemble.Failure)
	}
	if wf.Status != domain.WorkflowStatusFailed {
		t.Fatalf("workflow status = %s, want FAILED", wf.Status)
	}
}

func TestTick_RestartResumesSameJob(t *testing.T) {
	store, err := state.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	wf := buildWorkflow(t, "resume-run", llmSpec())
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Первый процесс отправляет задание и сохраняет состояние.
	svc1 := &fakeService{remote: batch.Remote{Status: domain.JobStatusInProgress}}
	o1 := newOrchestrator(t, svc1, store)
	if err := o1.Tick(ctx, "resume-run"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if svc1.submits != 1 {
		t.Fatalf("submits = %d, want 1", svc1.submits)
	}

	// Второй процесс (после рестарта) возобновляет опрос того же
	// задания, не отправляя batch заново.
	svc2 := &fakeService{
		submitErr: errors.New("must not resubmit"),
		remote: batch.Remote{
			Status:       domain.JobStatusComplete,
			OutputFileID: "file-out",
			Completed:    2,
		},
		files: map[string]map[int]domain.RequestResult{
			"file-out": {
				0: {Index: 0, Content: `{"text": "a"}`},
				1: {Index: 1, Content: `{"text": "b"}`},
			},
		},
	}
	o2 := newOrchestrator(t, svc2, store)
	if err := o2.Tick(ctx, "resume-run"); err != nil {
		t.Fatalf("Tick after restart: %v", err)
	}
	if svc2.submits != 0 {
		t.Fatalf("resubmitted after restart: submits = %d", svc2.submits)
	}

	got, err := store.Load(ctx, "resume-run")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gen, _ := got.Step("gen")
	if gen.Job.JobID != "batch-1" {
		t.Errorf("job id = %s, want batch-1", gen.Job.JobID)
	}
	if got.Status != domain.WorkflowStatusCompleted {
		t.Errorf("workflow status = %s, want COMPLETED", got.Status)
	}
}

func TestAdvance_PartialBatchCompletesWithErrors(t *testing.T) {
	svc := &fakeService{remote: batch.Remote{Status: domain.JobStatusInProgress}}
	o := newOrchestrator(t, svc, nil)
	wf := buildWorkflow(t, "partial-run", llmSpec())
	ctx := context.Background()

	if _, err := o.Advance(ctx, wf); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	svc.remote = batch.Remote{
		Status:       domain.JobStatusPartiallyComplete,
		OutputFileID: "file-out",
		ErrorFileID:  "file-err",
		Completed:    1,
		Failed:       1,
	}
	svc.files = map[string]map[int]domain.RequestResult{
		"file-out": {0: {Index: 0, Content: `{"text": "ok"}`}},
		"file-err": {1: {Index: 1, Err: "rate limited"}},
	}
	if _, err := o.Advance(ctx, wf); err != nil {
		t.Fatalf("second Advance: %v", err)
	}

	gen, _ := wf.Step("gen")
	if gen.Status != domain.StepStatusCompleted {
		t.Fatalf("gen status = %s, want COMPLETED", gen.Status)
	}
	out := gen.Output("answers")
	item, _ := wf.Item(*out.ItemID)
	want := `[{"text":"ok"},null]`
	if string(item.Value) != want {
		t.Errorf("answers = %s, want %s", item.Value, want)
	}
}

func TestCancel(t *testing.T) {
	store, err := state.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	wf := buildWorkflow(t, "cancel-run", llmSpec())
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	svc := &fakeService{remote: batch.Remote{Status: domain.JobStatusInProgress}}
	o := newOrchestrator(t, svc, store)
	if err := o.Tick(ctx, "cancel-run"); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if err := o.Cancel(ctx, "cancel-run"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != "batch-1" {
		t.Errorf("cancelled jobs = %v, want [batch-1]", svc.cancelled)
	}

	got, err := store.Load(ctx, "cancel-run")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != domain.WorkflowStatusCancelled {
		t.Fatalf("workflow status = %s, want CANCELLED", got.Status)
	}
	for id, step := range got.Steps {
		if !step.IsTerminal() {
			t.Errorf("step %s left in %s after cancel", id, step.Status)
		}
	}

	if err := o.Cancel(ctx, "cancel-run"); !errors.Is(err, ErrWorkflowFinished) {
		t.Fatalf("second Cancel = %v, want ErrWorkflowFinished", err)
	}
}
