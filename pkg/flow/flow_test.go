package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	flowerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func recordVisit(c *Context, alias string) {
	v, _ := c.Get("visited")
	slice, _ := v.([]any)
	c.Set("visited", append(slice, alias))
}

// recordingNode appends its alias to the "visited" slice and returns a
// fixed routing state.
type recordingNode struct {
	BaseNode
	alias string
	state ProcessState
}

func (n *recordingNode) Execute(ctx context.Context, c *Context) (any, error) {
	return n.alias, nil
}

func (n *recordingNode) PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error) {
	if execErr != nil {
		return ProcessResult{}, execErr
	}
	recordVisit(c, n.alias)
	return NewResult(n.state, ""), nil
}

// conditionState is a test state with an arbitrary condition label.
type conditionState string

func (s conditionState) IsDefault() bool   { return s == "" }
func (s conditionState) Condition() string { return string(s) }

func visited(c *Context) []string {
	v, _ := c.Get("visited")
	slice, _ := v.([]any)
	out := make([]string, len(slice))
	for i, e := range slice {
		out[i] = e.(string)
	}
	return out
}

func TestRunSingleNode(t *testing.T) {
	f, err := NewBuilder().
		Start("only", &recordingNode{alias: "only", state: StateDefault}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c, err := f.Run(context.Background(), NewContext())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := visited(c)
	if len(got) != 1 || got[0] != "only" {
		t.Errorf("Expected exactly the start node to run, got %v", got)
	}
}

func TestRunFollowsConditionEdges(t *testing.T) {
	f, err := NewBuilder().
		Start("classify", &recordingNode{alias: "classify", state: conditionState("high")}).
		Node("high", &recordingNode{alias: "high", state: StateDefault}).
		Node("low", &recordingNode{alias: "low", state: StateDefault}).
		EdgeOn("classify", "high", "high").
		EdgeOn("classify", "low", "low").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c, err := f.Run(context.Background(), NewContext())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := visited(c)
	if len(got) != 2 || got[0] != "classify" || got[1] != "high" {
		t.Errorf("Expected [classify high], got %v", got)
	}
}

func TestRunDefaultEdgeIsRoutable(t *testing.T) {
	// A default condition with a declared default edge routes, it does not
	// terminate.
	f, err := NewBuilder().
		Start("first", &recordingNode{alias: "first", state: StateDefault}).
		Node("second", &recordingNode{alias: "second", state: StateDefault}).
		Edge("first", "second").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c, err := f.Run(context.Background(), NewContext())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := visited(c)
	if len(got) != 2 || got[1] != "second" {
		t.Errorf("Expected [first second], got %v", got)
	}
}

func TestRunNoMatchingEdge(t *testing.T) {
	f, err := NewBuilder().
		Start("classify", &recordingNode{alias: "classify", state: conditionState("unrouted")}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = f.Run(context.Background(), NewContext())
	if err == nil {
		t.Fatal("Expected a missing-edge error")
	}
	if !flowerrors.IsNoMatchingEdge(err) {
		t.Errorf("Expected a NoMatchingEdge error, got %v", err)
	}
	if flowerrors.NodeOf(err) != "classify" {
		t.Errorf("Expected node 'classify', got %q", flowerrors.NodeOf(err))
	}
}

func TestRunCycleAlternation(t *testing.T) {
	// Two nodes route to each other until the second runs out of turns,
	// then it returns default and the run ends.
	ping := &togglingNode{alias: "ping", condition: "pong"}
	pong := &togglingNode{alias: "pong", condition: "ping", stopAfter: 2}

	f, err := NewBuilder().
		Start("ping", ping).
		Node("pong", pong).
		EdgeOn("ping", "pong", "pong").
		EdgeOn("pong", "ping", "ping").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c, err := f.Run(context.Background(), NewContext())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := visited(c)
	want := []string{"ping", "pong", "ping", "pong"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

// togglingNode routes on its condition until it has run stopAfter times,
// then returns default. stopAfter zero means always route.
type togglingNode struct {
	BaseNode
	alias     string
	condition string
	stopAfter int
	runs      int
}

func (n *togglingNode) Execute(ctx context.Context, c *Context) (any, error) {
	return nil, nil
}

func (n *togglingNode) PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error) {
	recordVisit(c, n.alias)
	n.runs++
	if n.stopAfter > 0 && n.runs >= n.stopAfter {
		return DefaultResult(), nil
	}
	return NewResult(conditionState(n.condition), ""), nil
}

func TestRunPrepareErrorAborts(t *testing.T) {
	failing := &prepareFailNode{}
	f, err := NewBuilder().Start("bad", failing).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = f.Run(context.Background(), NewContext())
	if err == nil {
		t.Fatal("Expected prepare failure to abort the run")
	}
	if flowerrors.StepOf(err) != flowerrors.StepPrepare {
		t.Errorf("Expected step %q, got %q", flowerrors.StepPrepare, flowerrors.StepOf(err))
	}
}

type prepareFailNode struct {
	BaseNode
}

func (n *prepareFailNode) Prepare(ctx context.Context, c *Context) error {
	return errors.New("inputs missing")
}

func (n *prepareFailNode) Execute(ctx context.Context, c *Context) (any, error) {
	return nil, nil
}

func TestRunExecuteErrorRoutesThroughPostProcess(t *testing.T) {
	// A node whose post-process turns an execute failure into a routable
	// condition sends the run down a recovery branch instead of aborting.
	f, err := NewBuilder().
		Start("risky", &recoveringNode{}).
		Node("recover", &recordingNode{alias: "recover", state: StateDefault}).
		EdgeOn("risky", "failure", "recover").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c, err := f.Run(context.Background(), NewContext())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := visited(c)
	if len(got) != 1 || got[0] != "recover" {
		t.Errorf("Expected the recovery branch to run, got %v", got)
	}
	if c.GetString("error") == "" {
		t.Error("Expected the execute error to be recorded in the context")
	}
}

type recoveringNode struct {
	BaseNode
}

func (n *recoveringNode) Execute(ctx context.Context, c *Context) (any, error) {
	return nil, errors.New("downstream unavailable")
}

func (n *recoveringNode) PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return NewResult(StateFailure, execErr.Error()), nil
	}
	return DefaultResult(), nil
}

func TestRunExecuteErrorFatalByDefault(t *testing.T) {
	fail := NodeFunc(func(ctx context.Context, c *Context) (any, error) {
		return nil, errors.New("boom")
	})
	f, err := NewBuilder().Start("fail", fail).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = f.Run(context.Background(), NewContext())
	if err == nil {
		t.Fatal("Expected the run to abort")
	}
	if flowerrors.StepOf(err) != flowerrors.StepPost {
		t.Errorf("Expected step %q, got %q", flowerrors.StepPost, flowerrors.StepOf(err))
	}
}

func TestRunMaxTransitions(t *testing.T) {
	// An infinite ping-pong cycle trips the configured cap.
	f, err := NewBuilder().
		Start("ping", &togglingNode{alias: "ping", condition: "pong"}).
		Node("pong", &togglingNode{alias: "pong", condition: "ping"}).
		EdgeOn("ping", "pong", "pong").
		EdgeOn("pong", "ping", "ping").
		Build(WithMaxTransitions(10))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = f.Run(context.Background(), NewContext())
	if err == nil {
		t.Fatal("Expected the transition cap to trip")
	}
	if !flowerrors.IsTransitionLimit(err) {
		t.Errorf("Expected a transition limit error, got %v", err)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cancelling := NodeFunc(func(ctx context.Context, c *Context) (any, error) {
		cancel()
		return nil, nil
	})
	f, err := NewBuilder().
		Start("first", cancelling).
		Node("second", &recordingNode{alias: "second", state: StateDefault}).
		Edge("first", "second").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c := NewContext()
	_, err = f.Run(ctx, c)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(visited(c)) != 0 {
		t.Errorf("Expected no node after cancellation, got %v", visited(c))
	}
}

func TestRunDataConvenience(t *testing.T) {
	double := NodeFunc(func(ctx context.Context, c *Context) (any, error) {
		return c.GetInt("n") * 2, nil
	})
	f, err := NewBuilder().Start("double", double).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	c, err := f.RunData(context.Background(), map[string]any{"n": 21})
	if err != nil {
		t.Fatalf("RunData failed: %v", err)
	}
	if c.GetInt(ResultKey) != 42 {
		t.Errorf("Expected 42 under result, got %v", c.GetInt(ResultKey))
	}
}

func TestRunBranchScenario(t *testing.T) {
	// A classify node routes odd and even inputs to different branches.
	classify := &classifyNode{}
	even := &recordingNode{alias: "even", state: StateDefault}
	odd := &recordingNode{alias: "odd", state: StateDefault}

	f, err := NewBuilder().
		Start("classify", classify).
		Node("even", even).
		Node("odd", odd).
		EdgeOn("classify", "even", "even").
		EdgeOn("classify", "odd", "odd").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, tc := range []struct {
		n    int
		want string
	}{
		{4, "even"},
		{7, "odd"},
	} {
		t.Run(fmt.Sprintf("n=%d", tc.n), func(t *testing.T) {
			c, err := f.RunData(context.Background(), map[string]any{"n": tc.n})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			got := visited(c)
			if len(got) != 1 || got[0] != tc.want {
				t.Errorf("Expected branch %q, got %v", tc.want, got)
			}
		})
	}
}

type classifyNode struct {
	BaseNode
}

func (n *classifyNode) Execute(ctx context.Context, c *Context) (any, error) {
	return c.GetInt("n"), nil
}

func (n *classifyNode) PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error) {
	if execErr != nil {
		return ProcessResult{}, execErr
	}
	if output.(int)%2 == 0 {
		return NewResult(conditionState("even"), ""), nil
	}
	return NewResult(conditionState("odd"), ""), nil
}

func TestFlowIsReusableAcrossRuns(t *testing.T) {
	increment := NodeFunc(func(ctx context.Context, c *Context) (any, error) {
		return c.GetInt("n") + 1, nil
	})
	f, err := NewBuilder().Start("inc", increment).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		c, err := f.RunData(context.Background(), map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if c.GetInt(ResultKey) != i+1 {
			t.Errorf("Run %d: expected %d, got %v", i, i+1, c.GetInt(ResultKey))
		}
	}
}
