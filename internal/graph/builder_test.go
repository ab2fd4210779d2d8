package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cascadehq/cascade/pkg/schema"
)

// --- helpers ---

func inputNode(id string) schema.WorkflowNode {
	data, _ := json.Marshal(schema.InputNodeData{Prompt: "go"})
	return schema.WorkflowNode{ID: id, Type: schema.NodeTypeInput, Data: data}
}

func toolNode(id string) schema.WorkflowNode {
	data, _ := json.Marshal(schema.ToolNodeData{ToolID: "sb_files_tool"})
	return schema.WorkflowNode{ID: id, Type: schema.NodeTypeTool, Data: data}
}

func agentNode(id string) schema.WorkflowNode {
	data, _ := json.Marshal(schema.AgentNodeData{Model: "test"})
	return schema.WorkflowNode{ID: id, Type: schema.NodeTypeAgent, Data: data}
}

func agentLoopNode(id string, maxIter int, exitCondition string) schema.WorkflowNode {
	data, _ := json.Marshal(schema.AgentNodeData{
		Model:         "test",
		MaxIterations: maxIter,
		ExitCondition: exitCondition,
	})
	return schema.WorkflowNode{ID: id, Type: schema.NodeTypeAgent, Data: data}
}

func edge(source, target string) schema.WorkflowEdge {
	return schema.WorkflowEdge{Source: source, Target: target}
}

func assertError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var cErr *schema.CascadeError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CascadeError, got %T: %v", err, err)
	}
	if cErr.Code != expectedCode {
		t.Errorf("expected code %s, got %s: %s", expectedCode, cErr.Code, cErr.Message)
	}
}

// --- structure tests ---

func TestBuild_LinearChain(t *testing.T) {
	g, err := Build(
		[]schema.WorkflowNode{inputNode("a"), agentNode("b"), toolNode("c")},
		[]schema.WorkflowEdge{edge("a", "b"), edge("b", "c")},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(g.EntryPoints) != 1 || g.EntryPoints[0] != "a" {
		t.Errorf("entry points = %v", g.EntryPoints)
	}
	if deps := g.Dependencies["b"]; len(deps) != 1 || deps[0] != "a" {
		t.Errorf("dependencies of b = %v", deps)
	}
	if deps := g.Dependents["b"]; len(deps) != 1 || deps[0] != "c" {
		t.Errorf("dependents of b = %v", deps)
	}
	if !g.HasOutgoing("b") || g.HasOutgoing("c") {
		t.Error("HasOutgoing mismatch")
	}
}

func TestBuild_MultipleEntryPointsInDefinitionOrder(t *testing.T) {
	g, err := Build(
		[]schema.WorkflowNode{inputNode("z"), inputNode("a"), agentNode("join")},
		[]schema.WorkflowEdge{edge("z", "join"), edge("a", "join")},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.EntryPoints) != 2 || g.EntryPoints[0] != "z" || g.EntryPoints[1] != "a" {
		t.Errorf("entry points = %v, expected definition order", g.EntryPoints)
	}
}

func TestBuild_ParallelEdgesDeduplicated(t *testing.T) {
	g, err := Build(
		[]schema.WorkflowNode{inputNode("a"), agentNode("b")},
		[]schema.WorkflowEdge{
			{Source: "a", Target: "b", TargetHandle: "tools"},
			{Source: "a", Target: "b", TargetHandle: "context"},
		},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if deps := g.Dependencies["b"]; len(deps) != 1 {
		t.Errorf("parallel edges should yield one dependency, got %v", deps)
	}
	if len(g.Incoming["b"]) != 2 {
		t.Errorf("both edges should be kept for input routing, got %d", len(g.Incoming["b"]))
	}
}

// --- validation tests ---

func TestBuild_EmptyNodeList(t *testing.T) {
	_, err := Build(nil, nil)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_DanglingEdgeSource(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{inputNode("a")},
		[]schema.WorkflowEdge{edge("ghost", "a")},
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_DanglingEdgeTarget(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{inputNode("a")},
		[]schema.WorkflowEdge{edge("a", "ghost")},
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_SelfEdge(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{agentNode("a")},
		[]schema.WorkflowEdge{edge("a", "a")},
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_DuplicateNodeID(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{inputNode("a"), inputNode("a")},
		nil,
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_UnknownNodeType(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{{ID: "a", Type: "parallel"}},
		nil,
	)
	assertError(t, err, schema.ErrCodeUnknownNodeType)
}

func TestBuild_InputNodeWithoutPrompt(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{{ID: "a", Type: schema.NodeTypeInput, Data: json.RawMessage(`{}`)}},
		nil,
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_ToolNodeWithoutToolID(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{{ID: "a", Type: schema.NodeTypeTool, Data: json.RawMessage(`{}`)}},
		nil,
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}

func TestBuild_FullyCyclicGraphHasNoEntryPoint(t *testing.T) {
	_, err := Build(
		[]schema.WorkflowNode{agentNode("a"), agentNode("b")},
		[]schema.WorkflowEdge{edge("a", "b"), edge("b", "a")},
	)
	assertError(t, err, schema.ErrCodeGraphValidation)
}
