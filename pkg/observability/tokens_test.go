package observability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, uint64(0), EstimateTokens(""))
	assert.Equal(t, uint64(1), EstimateTokens("abc"))
	assert.Equal(t, uint64(1), EstimateTokens("abcd"))
	assert.Equal(t, uint64(2), EstimateTokens("abcde"))
}

func TestEstimateRequestTokens(t *testing.T) {
	req := &canonical.Request{
		SystemPrompt: "12345678",
		Messages: []canonical.Message{{
			Role:  canonical.RoleUser,
			Parts: []canonical.Part{canonical.TextPart{Text: "1234"}},
		}},
		Tools: []canonical.ToolSpec{{Function: canonical.ToolFunction{
			Name:       "abcd",
			Parameters: json.RawMessage(`{}`),
		}}},
	}
	// 2 (system) + 1 (text) + 1 (name) + 1 (params) = 5
	assert.Equal(t, uint64(5), EstimateRequestTokens(req))
}

func TestMergeUsagePrefersUpstream(t *testing.T) {
	merged := MergeUsage(canonical.Usage{
		InputTokens:  canonical.Uint64Ptr(100),
		OutputTokens: canonical.Uint64Ptr(50),
		TotalTokens:  canonical.Uint64Ptr(150),
	}, 999, 999)
	assert.Equal(t, uint64(100), *merged.InputTokens)
	assert.Equal(t, uint64(50), *merged.OutputTokens)
	assert.Equal(t, uint64(150), *merged.TotalTokens)
}

func TestMergeUsageFillsMissing(t *testing.T) {
	merged := MergeUsage(canonical.Usage{}, 40, 20)
	assert.Equal(t, uint64(40), *merged.InputTokens)
	assert.Equal(t, uint64(20), *merged.OutputTokens)
	assert.Equal(t, uint64(60), *merged.TotalTokens)
}

func TestMergeUsageFillsZero(t *testing.T) {
	merged := MergeUsage(canonical.Usage{
		InputTokens:  canonical.Uint64Ptr(0),
		OutputTokens: canonical.Uint64Ptr(0),
		TotalTokens:  canonical.Uint64Ptr(0),
	}, 30, 10)
	assert.Equal(t, uint64(30), *merged.InputTokens)
	assert.Equal(t, uint64(10), *merged.OutputTokens)
	assert.Equal(t, uint64(40), *merged.TotalTokens)
}

func TestMergeUsagePartialUpstream(t *testing.T) {
	merged := MergeUsage(canonical.Usage{InputTokens: canonical.Uint64Ptr(100)}, 50, 25)
	assert.Equal(t, uint64(100), *merged.InputTokens)
	assert.Equal(t, uint64(25), *merged.OutputTokens)
	assert.Equal(t, uint64(125), *merged.TotalTokens)
}
