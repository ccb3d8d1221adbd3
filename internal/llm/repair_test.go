package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	valid := `{"order_id": "ORD123", "query_type": "status"}`

	repaired, stats, err := RepairJSON(valid)
	require.NoError(t, err)
	assert.False(t, stats.WasRepaired)
	assert.Equal(t, valid, repaired)
	assert.Equal(t, len(valid), stats.OriginalBytes)
	assert.Equal(t, len(valid), stats.RepairedBytes)
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	repaired, stats, err := RepairJSON(`{"order_id": "ORD123", "reasons": ["late",],}`)
	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.Equal(t, []string{"trailing_commas"}, stats.Strategies)
	assert.JSONEq(t, `{"order_id": "ORD123", "reasons": ["late"]}`, repaired)
}

func TestRepairJSON_IncompleteObject(t *testing.T) {
	repaired, stats, err := RepairJSON(`{"issue_type": "damaged", "details": {"note": "torn box`)
	require.NoError(t, err)
	assert.Contains(t, stats.Strategies, "completion")
	assert.JSONEq(t, `{"issue_type": "damaged", "details": {"note": "torn box"}}`, repaired)
}

func TestRepairJSON_CommentsKeepURLs(t *testing.T) {
	raw := "{\"a\": 1, // model note\n\"tracking\": \"https://carrier.example/t/1\"}"

	repaired, stats, err := RepairJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CommentsLost)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, "https://carrier.example/t/1", out["tracking"])
}

func TestRepairJSON_BareKeysAndSingleQuotes(t *testing.T) {
	repaired, stats, err := RepairJSON(`{route: 'monitor', urgency: 'high'}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"key_quotes", "single_quotes"}, stats.Strategies)
	assert.JSONEq(t, `{"route": "monitor", "urgency": "high"}`, repaired)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"plain":  {`{"a":1}`, `{"a":1}`},
		"fenced": {"Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		"prose":  {`Sure! {"a": {"b": 2}} hope that helps`, `{"a": {"b": 2}}`},
		"array":  {`result: [1, 2]`, `[1, 2]`},
		"none":   {`no structured data here`, ``},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}

func TestDecode(t *testing.T) {
	var target struct {
		OrderID string `json:"order_id"`
		Action  string `json:"action"`
	}
	stats, err := Decode("```json\n{\"order_id\": \"ORD9\", \"action\": \"refund\",}\n```", &target)
	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.Equal(t, "ORD9", target.OrderID)
	assert.Equal(t, "refund", target.Action)

	_, err = Decode("I could not decide.", &target)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeArguments(t *testing.T) {
	args, err := DecodeArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = DecodeArguments(`{"order_id": "ORD1", "query_type": "tracking",}`)
	require.NoError(t, err)
	assert.Equal(t, "ORD1", args["order_id"])
	assert.Equal(t, "tracking", args["query_type"])
}
