package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/nanoflow-dev/nanoflow/flow"
)

// Background cancel: a multi-node flow with a short sleep per node; cancel
// is called partway through; Wait returns a partial Store within its
// timeout and the resulting status is cancelled.
func TestBackgroundCancelStopsBetweenNodes(t *testing.T) {
	const nodeSleep = 20 * time.Millisecond
	const nodeCount = 10

	nodes := make([]*flow.Node, nodeCount)
	for i := 0; i < nodeCount; i++ {
		nodes[i] = flow.NewNode(nodeName(i))
		nodes[i].Exec = func(ctx context.Context, prepValue any) (any, error) {
			time.Sleep(nodeSleep)
			return nil, nil
		}
	}
	for i := 0; i < nodeCount-1; i++ {
		nodes[i].Then("default", nodes[i+1])
	}

	f, err := flow.New(nodes[0])
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}

	s := flow.NewStore("s", nil)
	h, err := f.RunBackground(s, nil)
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}

	time.Sleep(nodeSleep * 2)
	h.Cancel()

	result, ok := h.Wait(2 * time.Second)
	if !ok {
		t.Fatal("Wait timed out")
	}
	if result == nil {
		t.Fatal("expected a partial Store even after cancellation")
	}
	if h.Status() != "cancelled" {
		t.Fatalf("got status %q, want cancelled", h.Status())
	}
}

func TestBackgroundCancelBeforeFirstNodeYieldsZeroCheckpoints(t *testing.T) {
	n := flow.NewNode("slow")
	n.Exec = func(ctx context.Context, prepValue any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}

	f, err := flow.New(n)
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	s := flow.NewStore("s", nil)
	h, err := f.RunBackground(s, nil)
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}
	h.Cancel()

	if _, ok := h.Wait(2 * time.Second); !ok {
		t.Fatal("Wait timed out")
	}
	if h.Status() != "cancelled" {
		t.Fatalf("got status %q, want cancelled", h.Status())
	}

	checkpoints, err := f.DB().GetCheckpoints(h.RunID())
	if err != nil {
		t.Fatalf("GetCheckpoints: %v", err)
	}
	if len(checkpoints) != 0 {
		t.Fatalf("got %d checkpoints, want 0", len(checkpoints))
	}
}

func TestWaitTimesOutWithoutAffectingWorker(t *testing.T) {
	n := flow.NewNode("slow")
	n.Exec = func(ctx context.Context, prepValue any) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return "done", nil
	}
	f, err := flow.New(n)
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	s := flow.NewStore("s", nil)
	h, err := f.RunBackground(s, nil)
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}

	if _, ok := h.Wait(10 * time.Millisecond); ok {
		t.Fatal("expected Wait to time out before the node finishes")
	}
	if _, ok := h.Wait(2 * time.Second); !ok {
		t.Fatal("expected the second Wait to observe completion")
	}
	if h.Status() != "completed" {
		t.Fatalf("got status %q, want completed", h.Status())
	}
}

func nodeName(i int) string {
	const letters = "ABCDEFGHIJKLMNOP"
	return string(letters[i])
}
