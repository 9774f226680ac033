package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampOf(t *testing.T) {
	native := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		in    any
		valid bool
		want  time.Time
	}{
		{"native", native, true, native},
		{"pointer", &native, true, native},
		{"nil pointer", (*time.Time)(nil), false, time.Time{}},
		{"rfc3339", "2025-03-01T10:00:00Z", true, native},
		{"rfc3339 with millis", "2025-03-01T10:00:00.000Z", true, native},
		{"offset", "2025-03-01T13:00:00+03:00", true, native},
		{"space separated", "2025-03-01 10:00:00", true, native},
		{"date only", "2025-03-01", true, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"epoch millis", native.UnixMilli(), true, native},
		{"epoch float", float64(native.UnixMilli()), true, native},
		{"string array", []string{"2025-03-01T10:00:00Z", "junk"}, true, native},
		{"empty array", []string{}, false, time.Time{}},
		{"garbage", "not-a-date", false, time.Time{}},
		{"empty string", "", false, time.Time{}},
		{"bool", true, false, time.Time{}},
		{"nil", nil, false, time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TimestampOf(tc.in)
			assert.Equal(t, tc.valid, got.Valid)
			if tc.valid {
				assert.True(t, tc.want.Equal(got.Time), "want %s, got %s", tc.want, got.Time)
			}
		})
	}
}

func TestTimestampUnmarshalNeverFails(t *testing.T) {
	var rec IssueRecord
	raw := `{"issueId":"I1","authorId":"A","createdAt":"not-a-date","updatedAt":{"weird":true},
		"messages":[{"id":"m1","text":"hi","role":"user","createdAt":1700000000000},
		{"messageId":"m2","text":"yo","role":"operator","createdAt":null}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	assert.False(t, rec.CreatedAt.Valid)
	assert.False(t, rec.UpdatedAt.Valid)
	require.Len(t, rec.Messages, 2)
	assert.True(t, rec.Messages[0].CreatedAt.Valid)
	assert.Equal(t, int64(1700000000000), rec.Messages[0].CreatedAt.Time.UnixMilli())
	assert.False(t, rec.Messages[1].CreatedAt.Valid)
	assert.Equal(t, "m2", rec.Messages[1].CorrelationID())
}

func TestTimestampMarshal(t *testing.T) {
	b, err := json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(At(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, `"2025-01-02T03:04:05Z"`, string(b))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAI.Valid())
	assert.True(t, RoleOperator.Valid())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("bot").Valid())
}
