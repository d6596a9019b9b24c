package state

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Canis/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

// newTestWorkflow собирает workflow с llm-шагом в полёте:
// отправленное batch-задание, частичные результаты, связанный вход.
func newTestWorkflow(t *testing.T, name string) *domain.Workflow {
	t.Helper()
	wf := domain.NewWorkflow(name)

	seed := domain.NewExternalItem("topics", domain.TypeList, []byte(`["cooking","travel"]`))
	if err := wf.AddItem(seed); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	step := &domain.Step{
		ID:     "generate",
		Kind:   domain.StepKindLLM,
		Status: domain.StepStatusRunning,
		Inputs: []domain.InputSlot{
			{Name: "topic", Type: domain.TypeList, From: "external:topics", ItemID: &seed.ID},
		},
		Outputs: []domain.OutputSlot{
			{Name: "answer", Type: domain.TypeList},
		},
		Config: domain.StepConfig{
			Template: []byte(`{"model": "gpt-4o-mini", "user": "{topic}"}`),
		},
		Job: &domain.BatchJob{
			JobID:        "batch_abc123",
			InputFileID:  "file_in",
			RequestCount: 2,
			Status:       domain.JobStatusInProgress,
			Results: map[int]domain.RequestResult{
				0: {Index: 0, Content: `{"ok": true}`},
			},
			Retries:      1,
			SubmittedAt:  time.Now().UTC().Truncate(time.Second),
			LastPolledAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	wf.Steps[step.ID] = step
	return wf
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow(t, "run-1")
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if wf.Revision != 1 {
		t.Fatalf("revision after first save = %d, want 1", wf.Revision)
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != wf.ID || got.Name != wf.Name || got.Revision != wf.Revision {
		t.Errorf("identity mismatch: got %s/%s rev %d", got.ID, got.Name, got.Revision)
	}

	step, ok := got.Step("generate")
	if !ok {
		t.Fatal("step generate lost in round trip")
	}
	if step.Job == nil {
		t.Fatal("in-flight batch job lost in round trip")
	}
	if step.Job.JobID != "batch_abc123" || step.Job.Status != domain.JobStatusInProgress {
		t.Errorf("job = %s/%s, want batch_abc123/IN_PROGRESS", step.Job.JobID, step.Job.Status)
	}
	if step.Job.Results[0].Content != `{"ok": true}` {
		t.Errorf("job results lost: %+v", step.Job.Results)
	}
	if step.Job.Retries != 1 {
		t.Errorf("retries = %d, want 1", step.Job.Retries)
	}

	in := step.Input("topic")
	if in == nil || !in.Bound() {
		t.Fatal("bound input slot lost in round trip")
	}
	item, ok := got.Item(*in.ItemID)
	if !ok {
		t.Fatal("input item missing from Items")
	}
	if !bytes.Equal(item.Value, []byte(`["cooking","travel"]`)) {
		t.Errorf("item value = %s", item.Value)
	}
}

func TestFileStore_SaveLoadSubWorkflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow(t, "run-sub")
	sub := newTestWorkflow(t, "run-sub/classify")
	wf.Steps["classify"] = &domain.Step{
		ID:     "classify",
		Kind:   domain.StepKindChip,
		Status: domain.StepStatusRunning,
		Config: domain.StepConfig{Tool: "classification"},
		Sub:    sub,
	}

	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, "run-sub")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	chip, _ := got.Step("classify")
	if chip == nil || chip.Sub == nil {
		t.Fatal("chip sub-workflow lost in round trip")
	}
	inner, ok := chip.Sub.Step("generate")
	if !ok || inner.Job == nil || inner.Job.JobID != "batch_abc123" {
		t.Fatal("inner batch job lost in round trip")
	}
}

func TestFileStore_RevisionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow(t, "run-conflict")
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stale, err := store.Load(ctx, "run-conflict")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Второй клиент успевает сохранить раньше.
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	err = store.Save(ctx, stale)
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("stale save error = %v, want ErrRevisionConflict", err)
	}
	if stale.Revision != 1 {
		t.Errorf("stale revision changed to %d after rejected save", stale.Revision)
	}
}

func TestFileStore_ConcurrentSavesLoseNoUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wf := domain.NewWorkflow("run-contended")
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Каждый писатель выполняет ровно одно успешное сохранение,
	// перечитывая состояние после каждого конфликта ревизий.
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := store.Load(ctx, "run-contended")
				if err != nil {
					t.Errorf("Load: %v", err)
					return
				}
				err = store.Save(ctx, cur)
				if err == nil {
					return
				}
				if !errors.Is(err, ErrRevisionConflict) {
					t.Errorf("Save: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Load(ctx, "run-contended")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Revision != 1+writers {
		t.Errorf("final revision = %d, want %d: an update was lost", got.Revision, 1+writers)
	}
}

func TestFileStore_LoadNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStore_LoadCorruptState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow(t, "run-corrupt")
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(store.root, runsDir, "run-corrupt", stateFile)
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("corrupt state file: %v", err)
	}

	_, err := store.Load(ctx, "run-corrupt")
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
}

func TestFileStore_ListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"run-b", "run-a"} {
		if err := store.Save(ctx, newTestWorkflow(t, name)); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "run-a" || infos[1].Name != "run-b" {
		t.Fatalf("List = %+v, want run-a, run-b", infos)
	}

	if err := store.Delete(ctx, "run-a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, "run-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "run-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestFileStore_SnapshotAndRestore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow(t, "run-snap")
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := store.Snapshot(ctx, "run-snap")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if info.Revision != 1 {
		t.Errorf("snapshot revision = %d, want 1", info.Revision)
	}

	// Состояние уходит вперёд, снимок остаётся прежним.
	step, _ := wf.Step("generate")
	step.MarkCompleted()
	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	snap, err := store.LoadSnapshot(ctx, "run-snap", info.ID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	old, _ := snap.Step("generate")
	if old.Status != domain.StepStatusRunning {
		t.Errorf("snapshot step status = %s, want RUNNING", old.Status)
	}

	infos, err := store.Snapshots(ctx, "run-snap")
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != info.ID {
		t.Fatalf("Snapshots = %+v", infos)
	}

	_, err = store.LoadSnapshot(ctx, "run-snap", "no-such-snapshot")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing snapshot err = %v, want ErrNotFound", err)
	}
}

func TestFileStore_Artifacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte(`{"records": [1, 2, 3]}`)
	ref, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(ref) != 64 {
		t.Fatalf("ref = %q, want sha256 hex", ref)
	}

	again, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if again != ref {
		t.Errorf("Put is not idempotent: %s vs %s", again, ref)
	}

	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %s, want %s", got, data)
	}

	if _, err := store.Get(ctx, artifactRef([]byte("absent"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing artifact err = %v, want ErrNotFound", err)
	}
}

func TestFileStore_ArtifactIntegrity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("original content"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(store.root, artifactsDir, ref[:2], ref)
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper artifact: %v", err)
	}

	_, err = store.Get(ctx, ref)
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
}

func TestOffloadAndResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	big := bytes.Repeat([]byte("x"), 1024)
	large := domain.NewExternalItem("dataset", domain.TypeList, append([]byte(`["`), append(big, []byte(`"]`)...)...))
	small := domain.NewExternalItem("topic", domain.TypeString, []byte(`"cooking"`))

	wf := domain.NewWorkflow("run-offload")
	for _, item := range []*domain.DataItem{large, small} {
		if err := wf.AddItem(item); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	largeValue := append([]byte(nil), large.Value...)

	if err := Offload(ctx, wf, store, 256); err != nil {
		t.Fatalf("Offload: %v", err)
	}

	if large.Inline() {
		t.Fatal("large item still inline after offload")
	}
	if !small.Inline() {
		t.Fatal("small item offloaded below threshold")
	}

	resolver := &Resolver{Artifacts: store}
	got, err := resolver.Resolve(ctx, large)
	if err != nil {
		t.Fatalf("Resolve large: %v", err)
	}
	if !bytes.Equal(got, largeValue) {
		t.Error("offloaded value does not round-trip through resolver")
	}
	got, err = resolver.Resolve(ctx, small)
	if err != nil {
		t.Fatalf("Resolve small: %v", err)
	}
	if !bytes.Equal(got, []byte(`"cooking"`)) {
		t.Errorf("inline value = %s", got)
	}
}

func TestOffload_RecursesIntoSub(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inner := domain.NewWorkflow("outer/chip")
	big := domain.NewExternalItem("blob", domain.TypeString, bytes.Repeat([]byte("y"), 512))
	if err := inner.AddItem(big); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	wf := domain.NewWorkflow("outer")
	wf.Steps["chip"] = &domain.Step{
		ID:   "chip",
		Kind: domain.StepKindChip,
		Sub:  inner,
	}

	if err := Offload(ctx, wf, store, 256); err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if big.Inline() {
		t.Fatal("sub-workflow item not offloaded")
	}
}
