package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewStateDefaults(t *testing.T) {
	s := New("conv-1", "cust-1", "ORD123", t0)

	assert.Equal(t, AgentController, s.CurrentAgent)
	assert.Equal(t, 0, s.Context.TurnCount)
	assert.Equal(t, "neutral", s.Context.Sentiment)
	assert.Empty(t, s.Context.IssuesDetected)
	assert.NotNil(t, s.Context.IssuesDetected)
	assert.Equal(t, t0, s.Context.StartedAt)
	assert.Equal(t, NoAction, s.NextAction)
}

func TestTurnCountFollowsAssistantMessages(t *testing.T) {
	s := New("conv-1", "", "", t0)
	for i := 1; i <= 5; i++ {
		s.AppendUser("hello", t0)
		s.AppendAssistant("hi", AgentController, t0)
		assert.Equal(t, i, s.Context.TurnCount)
	}
	s.AppendSystem("note", t0)
	assert.Equal(t, 5, s.Context.TurnCount)
	assert.Len(t, s.Messages, 11)
}

func TestNextActionValidation(t *testing.T) {
	s := New("conv-1", "", "", t0)

	for _, ok := range []NextAction{NoAction, ActionEnd, ActionHuman, "monitor", "resolution"} {
		assert.NoError(t, s.SetNextAction(ok), string(ok))
	}

	err := s.SetNextAction("billing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidNextAction))
	assert.Equal(t, NextAction("resolution"), s.NextAction)

	_, err = ActionFor(AgentController)
	assert.ErrorIs(t, err, ErrInvalidNextAction)

	a, err := ActionFor(AgentExchange)
	require.NoError(t, err)
	agent, ok := a.Agent()
	assert.True(t, ok)
	assert.Equal(t, AgentExchange, agent)
	assert.False(t, a.Terminal())
	assert.True(t, ActionHuman.Terminal())
}

func TestRecent(t *testing.T) {
	s := New("conv-1", "", "", t0)
	s.AppendUser("one", t0)
	s.AppendAssistant("two", AgentMonitor, t0)
	s.AppendUser("three", t0)

	last := s.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
	assert.Equal(t, "three", last[1].Content)

	assert.Len(t, s.Recent(0), 3)
	assert.Len(t, s.Recent(10), 3)
}

func TestCloneIsDeep(t *testing.T) {
	s := New("conv-1", "", "", t0)
	s.AppendUser("hello", t0)
	require.NoError(t, s.Context.Merge(map[string]any{"coupon": map[string]any{"code": "X"}}))
	s.Context.AddIssue("delivery_delay")

	c := s.Clone()
	c.AppendAssistant("reply", AgentController, t0)
	c.Context.AddIssue("tracking_stale")
	c.Context.Extra["coupon"].(map[string]any)["code"] = "Y"

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, 0, s.Context.TurnCount)
	assert.Equal(t, []string{"delivery_delay"}, s.Context.IssuesDetected)
	assert.Equal(t, "X", s.Context.Extra["coupon"].(map[string]any)["code"])
}

func TestContextMerge(t *testing.T) {
	c := NewContext(t0)
	err := c.Merge(map[string]any{
		"order_value":     750,
		"customer_tier":   "vip",
		"image_uploaded":  true,
		"issues_detected": []any{"damaged_box"},
		"order_id":        "ORD123",
		"channel":         "web",
	})
	require.NoError(t, err)

	v, ok := c.Number("order_value")
	assert.True(t, ok)
	assert.Equal(t, 750.0, v)
	tier, ok := c.Text("customer_tier")
	assert.True(t, ok)
	assert.Equal(t, "vip", tier)
	assert.True(t, c.Flag("image_uploaded"))
	assert.Equal(t, []string{"damaged_box"}, c.IssuesDetected)
	orderID, ok := c.Text("order_id")
	assert.True(t, ok)
	assert.Equal(t, "ORD123", orderID)

	assert.Error(t, c.Merge(map[string]any{"order_value": "lots"}))
	assert.Error(t, c.Merge(map[string]any{"image_uploaded": "yes"}))
	assert.Error(t, c.Merge(map[string]any{"turn_count": 3}))
}

func TestExportImportRoundTrip(t *testing.T) {
	s := New("conv-1", "cust-1", "ORD123", t0)
	s.AppendUser("Where is my order?", t0)
	s.AppendAssistant("It is on the way.", AgentMonitor, t0.Add(time.Second))
	require.NoError(t, s.Context.Merge(map[string]any{
		"order_value": 120.5,
		"loyalty":     map[string]any{"points": 42, "level": "gold"},
		"tags":        []string{"late"},
	}))
	require.NoError(t, s.SetCurrentAgent(AgentMonitor))

	data, err := s.Export()
	require.NoError(t, err)

	back, err := Import(data)
	require.NoError(t, err)

	if diff := cmp.Diff(s.Messages, back.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Context, back.Context); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, AgentMonitor, back.CurrentAgent)
}

func TestImportRejectsInvalidState(t *testing.T) {
	_, err := Import([]byte(`{"conversation_id":"c","current_agent":"controller","next_action":"billing"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidNextAction)

	_, err = Import([]byte(`{"conversation_id":"","current_agent":"controller"}`))
	assert.Error(t, err)

	_, err = Import([]byte(`not json`))
	assert.Error(t, err)
}

func TestImportErrorsAreMalformed(t *testing.T) {
	_, err := Import([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedState)

	_, err = Import([]byte(`{"conversation_id":"c","current_agent":"nobody"}`))
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestCloneExportsLikeOriginal(t *testing.T) {
	s := New("conv-1", "cust-1", "", t0)

	want, err := s.Export()
	require.NoError(t, err)
	got, err := s.Clone().Export()
	require.NoError(t, err)

	assert.JSONEq(t, string(want), string(got))
	assert.NotNil(t, s.Clone().Context.IssuesDetected)
	assert.Contains(t, string(got), `"issues_detected":[]`)
}

func TestImportFillsMissingIssues(t *testing.T) {
	s, err := Import([]byte(`{"conversation_id":"c","current_agent":"controller","context":{"issues_detected":null}}`))
	require.NoError(t, err)
	assert.NotNil(t, s.Context.IssuesDetected)
	assert.Empty(t, s.Context.IssuesDetected)
}

func TestMergeIsAllOrNothing(t *testing.T) {
	for i := 0; i < 20; i++ {
		c := NewContext(t0)
		err := c.Merge(map[string]any{
			"customer_tier":  "vip",
			"order_value":    99.0,
			"channel":        "web",
			"image_uploaded": "yes",
		})
		require.Error(t, err)
		if diff := cmp.Diff(NewContext(t0), c); diff != "" {
			t.Fatalf("rejected merge changed the context (-want +got):\n%s", diff)
		}
	}
}
