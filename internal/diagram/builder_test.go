package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/pkg/schema"
)

func rawData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func pipelineDefinition(t *testing.T) *schema.WorkflowDefinition {
	t.Helper()
	return &schema.WorkflowDefinition{
		Name: "report pipeline",
		Nodes: []schema.WorkflowNode{
			{ID: "in", Type: schema.NodeTypeInput, Data: rawData(t, schema.InputNodeData{Prompt: "summarize Q3\nwith details"})},
			{ID: "agent", Type: schema.NodeTypeAgent, Data: rawData(t, schema.AgentNodeData{Model: "fast-model"})},
			{ID: "files", Type: schema.NodeTypeTool, Data: rawData(t, schema.ToolNodeData{ToolID: "sb_files_tool"})},
		},
		Edges: []schema.WorkflowEdge{
			{Source: "in", Target: "agent"},
			{Source: "agent", Target: "files", TargetHandle: "content"},
		},
	}
}

func loopDefinition(t *testing.T) *schema.WorkflowDefinition {
	t.Helper()
	return &schema.WorkflowDefinition{
		Name: "refine loop",
		Nodes: []schema.WorkflowNode{
			{ID: "in", Type: schema.NodeTypeInput, Data: rawData(t, schema.InputNodeData{Prompt: "draft"})},
			{ID: "a", Type: schema.NodeTypeAgent, Data: rawData(t, schema.AgentNodeData{Model: "m", MaxIterations: 3})},
			{ID: "b", Type: schema.NodeTypeAgent, Data: rawData(t, schema.AgentNodeData{Model: "m"})},
		},
		Edges: []schema.WorkflowEdge{
			{Source: "in", Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
}

func TestBuildLabelsAndKinds(t *testing.T) {
	model, err := Build(pipelineDefinition(t), nil)
	require.NoError(t, err)
	require.Len(t, model.Nodes, 3)

	byID := map[string]*Node{}
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	// Labels come from the node data; multi-line prompts keep the first line.
	assert.Equal(t, "summarize Q3", byID["in"].Label)
	assert.Equal(t, "fast-model", byID["agent"].Label)
	assert.Equal(t, "sb_files_tool", byID["files"].Label)

	assert.Equal(t, schema.NodeTypeInput, byID["in"].Kind)
	assert.Equal(t, schema.NodeTypeAgent, byID["agent"].Kind)
	assert.Equal(t, schema.NodeTypeTool, byID["files"].Kind)

	assert.Equal(t, "report pipeline", model.Title)
}

func TestBuildLabelPrefersExplicit(t *testing.T) {
	def := pipelineDefinition(t)
	def.Nodes[2].Data = rawData(t, schema.ToolNodeData{Label: "Write report", ToolID: "sb_files_tool"})

	model, err := Build(def, nil)
	require.NoError(t, err)
	assert.Equal(t, "Write report", findNode(model.Nodes, "files").Label)
}

func TestBuildLevels(t *testing.T) {
	model, err := Build(pipelineDefinition(t), nil)
	require.NoError(t, err)

	require.Len(t, model.Levels, 3)
	assert.Equal(t, []string{"in"}, model.Levels[0])
	assert.Equal(t, []string{"agent"}, model.Levels[1])
	assert.Equal(t, []string{"files"}, model.Levels[2])
}

func TestBuildEdgeLabels(t *testing.T) {
	model, err := Build(pipelineDefinition(t), nil)
	require.NoError(t, err)
	require.Len(t, model.Edges, 2)

	assert.Empty(t, model.Edges[0].Label)
	assert.Equal(t, "content", model.Edges[1].Label)
	for _, e := range model.Edges {
		assert.False(t, e.Back)
	}
}

func TestBuildStatusOverlay(t *testing.T) {
	states := []*store.NodeState{
		{NodeID: "in", Status: schema.NodeStatusCompleted, DurationMs: 12},
		{NodeID: "agent", Status: schema.NodeStatusFailed, Error: json.RawMessage(`"runtime exploded"`)},
	}

	model, err := Build(pipelineDefinition(t), states)
	require.NoError(t, err)

	in := findNode(model.Nodes, "in")
	require.NotNil(t, in.Status)
	assert.Equal(t, "completed", in.Status.Status)
	assert.Equal(t, int64(12), in.Status.DurationMs)

	agent := findNode(model.Nodes, "agent")
	require.NotNil(t, agent.Status)
	assert.Equal(t, "failed", agent.Status.Status)
	assert.Contains(t, agent.Status.Error, "runtime exploded")

	assert.Nil(t, findNode(model.Nodes, "files").Status)
}

func TestBuildMarksLoop(t *testing.T) {
	model, err := Build(loopDefinition(t), nil)
	require.NoError(t, err)

	assert.False(t, findNode(model.Nodes, "in").LoopMember)
	assert.True(t, findNode(model.Nodes, "a").LoopMember)
	assert.True(t, findNode(model.Nodes, "b").LoopMember)

	var backs []Edge
	for _, e := range model.Edges {
		if e.Back {
			backs = append(backs, e)
		}
	}
	require.Len(t, backs, 1)
	assert.Equal(t, "b", backs[0].From)
	assert.Equal(t, "a", backs[0].To)

	// The back edge is excluded from the layout, so the loop lays out flat.
	require.Len(t, model.Levels, 3)
	assert.Equal(t, []string{"a"}, model.Levels[1])
	assert.Equal(t, []string{"b"}, model.Levels[2])
}

func TestBuildInvalidDefinition(t *testing.T) {
	def := pipelineDefinition(t)
	def.Edges = append(def.Edges, schema.WorkflowEdge{Source: "files", Target: "ghost"})

	_, err := Build(def, nil)
	require.Error(t, err)
}
