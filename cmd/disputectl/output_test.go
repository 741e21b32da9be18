package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/chargeguard/internal/dispute"
)

func TestParseFormat(t *testing.T) {
	f, err := parseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, formatJSON, f)

	_, err = parseFormat("table")
	assert.ErrorContains(t, err, `unknown output format "table"`)
}

func TestRender_YAMLUsesJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	res := &dispute.ReadinessResult{
		DisputeID: "dp_1",
		Readiness: dispute.Readiness{Ready: false, Reason: "manual_review_required", Priority: 95},
	}
	require.NoError(t, render(&buf, formatYAML, res))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "dp_1", got["disputeId"])
	assert.Equal(t, "manual_review_required", got["reasonCode"])
	assert.Equal(t, 95, got["priority"])
	assert.Equal(t, false, got["ready"])
}

func TestRender_JSONIndented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatJSON, &dispute.OptimizeResult{AllowList: []string{"fraudulent"}}))
	assert.Contains(t, buf.String(), "\n  \"allowList\": [\n    \"fraudulent\"\n  ]")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
}
