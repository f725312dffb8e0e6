package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		msg       string
		code      string
		retryable bool
	}{
		{name: "401", status: 401, msg: "bad key", code: "UNAUTHORIZED", retryable: false},
		{name: "403", status: 403, msg: "denied", code: "FORBIDDEN", retryable: false},
		{name: "429", status: 429, msg: "slow", code: "RATE_LIMITED", retryable: true},
		{name: "400 plain", status: 400, msg: "bad field", code: "INVALID_REQUEST", retryable: false},
		{name: "400 quota", status: 400, msg: "quota exceeded", code: "QUOTA_EXCEEDED", retryable: false},
		{name: "400 credit", status: 400, msg: "out of credits", code: "QUOTA_EXCEEDED", retryable: false},
		{name: "502", status: 502, msg: "bad gateway", code: "UPSTREAM_ERROR", retryable: true},
		{name: "503", status: 503, msg: "unavailable", code: "UPSTREAM_ERROR", retryable: true},
		{name: "529", status: 529, msg: "overloaded", code: "MODEL_OVERLOADED", retryable: true},
		{name: "500", status: 500, msg: "boom", code: "UPSTREAM_ERROR", retryable: true},
		{name: "418", status: 418, msg: "teapot", code: "UPSTREAM_ERROR", retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError(tt.status, tt.msg, "prov")
			assert.Equal(t, tt.code, string(err.Code))
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "prov", err.Provider)
			assert.Equal(t, tt.msg, err.Message)
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	t.Run("json envelope", func(t *testing.T) {
		body := strings.NewReader(`{"error":{"message":"invalid model","type":"invalid_request_error"}}`)
		assert.Equal(t, "invalid model (type: invalid_request_error)", ReadErrorMessage(body))
	})
	t.Run("message only", func(t *testing.T) {
		body := strings.NewReader(`{"error":{"message":"nope"}}`)
		assert.Equal(t, "nope", ReadErrorMessage(body))
	})
	t.Run("raw text", func(t *testing.T) {
		body := strings.NewReader("bare upstream error")
		assert.Equal(t, "bare upstream error", ReadErrorMessage(body))
	})
}

func TestConvertToolChoice(t *testing.T) {
	assert.Nil(t, ConvertToolChoice(""))
	assert.Equal(t, "auto", ConvertToolChoice(llm.ToolChoiceAuto))
	assert.Equal(t, "none", ConvertToolChoice(llm.ToolChoiceNone))

	named := ConvertToolChoice("get_weather")
	m, ok := named.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "function", m["type"])
	assert.Equal(t, map[string]any{"name": "get_weather"}, m["function"])
}

func TestConvertToolsToOpenAI(t *testing.T) {
	assert.Nil(t, ConvertToolsToOpenAI(nil))

	schema := types.NewObjectSchema()
	schema.AddProperty("city", types.NewStringSchema())
	schema.AddRequired("city")

	out := ConvertToolsToOpenAI([]llm.ToolSchema{
		{Name: "get_weather", Description: "current weather", Parameters: schema},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "get_weather", out[0].Function.Name)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out[0].Function.Parameters, &decoded))
	assert.Equal(t, "object", decoded["type"])
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req", ChooseModel("req", "def", "fb"))
	assert.Equal(t, "def", ChooseModel("", "def", "fb"))
	assert.Equal(t, "fb", ChooseModel("", "", "fb"))
}

func TestToChatResponse_NoUsage(t *testing.T) {
	resp := ToChatResponse(OpenAICompatResponse{ID: "x", Model: "m"}, "prov")
	assert.Equal(t, llm.ChatUsage{}, resp.Usage)
	assert.Empty(t, resp.Choices)
}

// Property: message conversion preserves order, roles, content and tool
// calls for any conversation shape.
func TestConvertMessagesToOpenAI_Roundtrip(t *testing.T) {
	roles := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		msgs := make([]llm.Message, 0, n)
		for i := 0; i < n; i++ {
			m := llm.Message{
				Role:    roles[rapid.IntRange(0, len(roles)-1).Draw(t, "role")],
				Content: rapid.String().Draw(t, "content"),
				Name:    rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "name"),
			}
			if rapid.Bool().Draw(t, "hasCall") {
				m.ToolCalls = []llm.ToolCall{{
					ID:        rapid.StringMatching(`call_[0-9]{1,4}`).Draw(t, "id"),
					Name:      rapid.StringMatching(`[a-z_]{1,12}`).Draw(t, "fn"),
					Arguments: json.RawMessage(`{}`),
				}}
			}
			msgs = append(msgs, m)
		}

		out := ConvertMessagesToOpenAI(msgs)
		require.Len(t, out, len(msgs))
		for i, m := range msgs {
			assert.Equal(t, string(m.Role), out[i].Role)
			assert.Equal(t, m.Content, out[i].Content)
			assert.Equal(t, m.Name, out[i].Name)
			require.Len(t, out[i].ToolCalls, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				assert.Equal(t, tc.ID, out[i].ToolCalls[j].ID)
				assert.Equal(t, tc.Name, out[i].ToolCalls[j].Function.Name)
				assert.Equal(t, "function", out[i].ToolCalls[j].Type)
			}
		}
	})
}

// Property: every mapped error keeps the status it was mapped from, and 5xx
// is always retryable.
func TestMapHTTPError_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(400, 599).Draw(t, "status")
		err := MapHTTPError(status, "msg", "p")
		assert.Equal(t, status, err.HTTPStatus)
		if status >= 500 {
			assert.True(t, err.Retryable)
		}
	})
}
