package graphql

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEnvelope(t *testing.T, body string) *RawResponse {
	t.Helper()
	var r RawResponse
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	return &r
}

func TestDecode(t *testing.T) {
	type item struct {
		ID string `json:"id"`
	}

	tests := []struct {
		name       string
		body       string
		wantData   bool
		wantID     string
		wantErrors int
		wantErr    bool
	}{
		{name: "data", body: `{"data": {"id": "a"}}`, wantData: true, wantID: "a"},
		{name: "null data", body: `{"data": null}`},
		{name: "missing data", body: `{}`},
		{name: "errors only", body: `{"errors": [{"message": "boom"}]}`, wantErrors: 1},
		{name: "data and errors", body: `{"data": {"id": "b"}, "errors": [{"message": "partial"}]}`, wantData: true, wantID: "b", wantErrors: 1},
		{name: "wrong shape", body: `{"data": [1, 2]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[item](rawEnvelope(t, tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, got.HasData())
			assert.Len(t, got.Errors, tt.wantErrors)
			if tt.wantData {
				assert.Equal(t, tt.wantID, got.Data.ID)
			}
		})
	}

	_, err := Decode[item](nil)
	assert.Error(t, err)
}

func TestSelectField(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantData string
	}{
		{name: "field present", body: `{"data": {"createUser": {"id": "u"}}}`, wantData: `{"id": "u"}`},
		{name: "field null", body: `{"data": {"deleteUser": null}}`},
		{name: "field missing", body: `{"data": {}}`},
		{name: "data null", body: `{"data": null, "errors": [{"message": "x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := "createUser"
			if tt.name == "field null" {
				field = "deleteUser"
			}
			got, err := SelectField(rawEnvelope(t, tt.body), field)
			require.NoError(t, err)
			if tt.wantData == "" {
				assert.False(t, got.HasData())
				return
			}
			require.True(t, got.HasData())
			assert.JSONEq(t, tt.wantData, string(*got.Data))
		})
	}
}

func TestErrorRendering(t *testing.T) {
	errs := Errors{
		{Message: "Conflict resolver rejects mutation.", ErrorType: "ConflictUnhandled"},
		{Message: "plain"},
	}
	assert.Equal(t, "[Conflict resolver rejects mutation. (ConflictUnhandled); plain]", errs.Error())
}
