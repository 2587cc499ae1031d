package taskqueue

import (
	"testing"
	"time"
)

func TestEncodeDecodeStep(t *testing.T) {
	in := Step{
		ID:              "step-9",
		Type:            StepChildTerminal,
		WorkflowID:      "wf-parent",
		ChildWorkflowID: "wf-child",
		EnqueuedAt:      time.Now().Truncate(time.Millisecond),
		Attempts:        2,
	}

	data, err := EncodeStep(in)
	if err != nil {
		t.Fatalf("EncodeStep failed: %v", err)
	}

	out, err := DecodeStep(data)
	if err != nil {
		t.Fatalf("DecodeStep failed: %v", err)
	}

	if out.ID != in.ID || out.Type != in.Type || out.WorkflowID != in.WorkflowID || out.ChildWorkflowID != in.ChildWorkflowID {
		t.Fatalf("identity fields did not round-trip: %+v", out)
	}
	if out.Attempts != 2 {
		t.Fatalf("attempts did not round-trip: %+v", out)
	}
	if !out.EnqueuedAt.Equal(in.EnqueuedAt) {
		t.Fatalf("EnqueuedAt did not round-trip: %v vs %v", out.EnqueuedAt, in.EnqueuedAt)
	}
}

func TestDecodeStep_Garbage(t *testing.T) {
	if _, err := DecodeStep([]byte("not a gob stream")); err == nil {
		t.Fatal("expected error decoding garbage")
	}
}
