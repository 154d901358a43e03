package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expKind  Kind
		expTotal int64
		expCur   int64
		expDesc  string
	}{
		{name: "pulling from", line: `{"status":"Pulling from library/alpine","id":"3.19"}`, expKind: Ignorable},
		{name: "digest line", line: `{"status":"Digest: sha256:c5b1261d6d3e43071626931fc004f70149baeba2c8ec672bd4f27761f8e1ad6b"}`, expKind: Ignorable},
		{name: "no id", line: `{"status":"Downloading","progressDetail":{"current":1,"total":2}}`, expKind: Ignorable},
		{name: "empty detail", line: `{"status":"Pull complete","progressDetail":{},"id":"4abcf2066143"}`, expKind: Ignorable},
		{name: "downloading", line: `{"status":"Downloading","progressDetail":{"current":1024,"total":3408729},"progress":"[>   ]","id":"4abcf2066143"}`,
			expKind: ProgressUpdate, expTotal: 3408729, expCur: 1024, expDesc: "alpine:3.19 (Downloading: 4abcf2066143)"},
		{name: "zero current", line: `{"status":"Extracting","progressDetail":{"current":0,"total":10},"id":"4abcf2066143"}`,
			expKind: ProgressUpdate, expTotal: 10, expCur: 0, expDesc: "alpine:3.19 (Extracting: 4abcf2066143)"},
		{name: "no total", line: `{"status":"Extracting","progressDetail":{"current":32768},"id":"4abcf2066143"}`, expKind: Unparseable},
		{name: "no current", line: `{"status":"Extracting","progressDetail":{"total":32768},"id":"4abcf2066143"}`, expKind: Unparseable},
		{name: "negative", line: `{"status":"Extracting","progressDetail":{"current":-1,"total":5},"id":"4abcf2066143"}`, expKind: Unparseable},
		{name: "no status", line: `{"progressDetail":{"current":1,"total":5},"id":"4abcf2066143"}`, expKind: Unparseable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var ev RawEvent
			require.NoError(t, json.Unmarshal([]byte(tc.line), &ev))
			c := Classify("alpine:3.19", ev)
			assert.Equal(t, tc.expKind, c.Kind)
			if tc.expKind == ProgressUpdate {
				assert.Equal(t, "4abcf2066143", c.Update.ID)
				assert.Equal(t, tc.expTotal, c.Update.Total)
				assert.Equal(t, tc.expCur, c.Update.Completed)
				assert.Equal(t, tc.expDesc, c.Update.Description)
			}
			if tc.expKind == Unparseable {
				assert.NotEmpty(t, c.Reason)
			}
		})
	}
}

func TestClassifyInvalid(t *testing.T) {
	ten := int64(10)
	ev := RawEvent{ID: "abc", Status: "Downloading", Progress: &ProgressDetail{Total: &ten},
		Invalid: "json: cannot unmarshal string into Go struct field ProgressDetail.progressDetail.current of type int64"}
	c := Classify("busybox", ev)
	assert.Equal(t, Unparseable, c.Kind)
	assert.Contains(t, c.Reason, "cannot unmarshal")
}

func TestFailure(t *testing.T) {
	var ev RawEvent
	line := `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}`
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.True(t, ev.Failed())
	code, msg := ev.Failure()
	assert.Equal(t, 0, code)
	assert.Equal(t, "manifest unknown", msg)

	ev = RawEvent{ErrorMessage: "toomanyrequests"}
	assert.True(t, ev.Failed())
	_, msg = ev.Failure()
	assert.Equal(t, "toomanyrequests", msg)

	assert.False(t, RawEvent{ID: "x", Status: "Waiting"}.Failed())
}
