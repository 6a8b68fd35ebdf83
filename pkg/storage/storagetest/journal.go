package storagetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/rhuss/vibe/pkg/step"
)

// RunJournal exercises the step.Journal contract against j.
func RunJournal(t *testing.T, j step.Journal) {
	ctx := context.Background()
	runID := "run_" + uuid.NewString()

	if _, ok, err := j.Load(ctx, runID, "get-sandbox-id"); err != nil || ok {
		t.Fatalf("Load(missing) = ok %v, err %v", ok, err)
	}

	if err := j.Save(ctx, runID, "get-sandbox-id", json.RawMessage(`"sbx_1"`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// First result wins.
	if err := j.Save(ctx, runID, "get-sandbox-id", json.RawMessage(`"sbx_2"`)); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	raw, ok, err := j.Load(ctx, runID, "get-sandbox-id")
	if err != nil || !ok {
		t.Fatalf("Load = ok %v, err %v", ok, err)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if id != "sbx_1" {
		t.Errorf("result = %q, want sbx_1", id)
	}

	files := map[string]string{"app/page.tsx": "export default function Page() {}"}
	b, _ := json.Marshal(map[string]any{"files": files})
	if err := j.Save(ctx, runID, "createOrUpdateFiles", b); err != nil {
		t.Fatalf("Save object: %v", err)
	}
	raw, ok, err = j.Load(ctx, runID, "createOrUpdateFiles")
	if err != nil || !ok {
		t.Fatalf("Load object = ok %v, err %v", ok, err)
	}
	var got struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decoding object: %v", err)
	}
	if got.Files["app/page.tsx"] != files["app/page.tsx"] {
		t.Errorf("files = %v", got.Files)
	}

	// Steps are scoped per run.
	if _, ok, _ := j.Load(ctx, "run_other", "get-sandbox-id"); ok {
		t.Error("step visible from another run")
	}
}
