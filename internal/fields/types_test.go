package fields

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
)

func TestConfidenceOrdering(t *testing.T) {
	assert.Less(t, ConfidenceLow, ConfidenceMedium)
	assert.Less(t, ConfidenceMedium, ConfidenceHigh)
	assert.Greater(t, ConfidenceHigh.Score(), ConfidenceMedium.Score())
	assert.Greater(t, ConfidenceMedium.Score(), ConfidenceLow.Score())
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in      string
		want    Confidence
		wantErr bool
	}{
		{in: "high", want: ConfidenceHigh},
		{in: " Medium ", want: ConfidenceMedium},
		{in: "LOW", want: ConfidenceLow},
		{in: "certain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConfidence(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		r := New(KindText, geometry.NewRect(0, 0, 10, 10), ConfidenceMedium, MethodOCRBlankLine)
		require.NotEmpty(t, r.ID)
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestNewNormalizesRect(t *testing.T) {
	r := New(KindCheckbox, geometry.Rect{X0: 20, Y0: 30, X1: 10, Y1: 15}, ConfidenceHigh, MethodPixelCheckbox)
	assert.Equal(t, geometry.Rect{X0: 10, Y0: 15, X1: 20, Y1: 30}, r.Rect)
	assert.Equal(t, 1.0, r.Score)
}

func TestRecordJSON(t *testing.T) {
	r := New(KindRadio, geometry.NewRect(1, 2, 3, 4), ConfidenceHigh, MethodStructuredAnnotation)
	r.GroupName = "gender"

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"confidence":"high"`)
	assert.Contains(t, string(data), `"detection_method":"structured-annotation"`)
	assert.Contains(t, string(data), `"group_name":"gender"`)
	assert.NotContains(t, string(data), `"label"`)

	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r, decoded)
}

func TestCloneDoesNotShareOptions(t *testing.T) {
	r := New(KindDropdown, geometry.NewRect(0, 0, 50, 10), ConfidenceHigh, MethodStructuredAnnotation)
	r.Options = []string{"a", "b"}

	c := r.Clone()
	c.Options[0] = "changed"
	assert.Equal(t, "a", r.Options[0])
}
