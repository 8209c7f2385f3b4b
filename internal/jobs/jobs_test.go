package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestClassify(t *testing.T) {
	r := DefaultRules()
	cases := []struct {
		name  string
		job   Job
		class Classification
	}{
		{"order", Job{State: 4}, FirmBooked},
		{"confirmed reserved quote", Job{State: 3, Status: 60}, FirmReserved},
		{"unconfirmed reserved quote", Job{State: 3, Status: 20}, Unclassified},
		{"draft", Job{State: 1}, SoftProvisional},
		{"provisional", Job{State: 2}, SoftProvisional},
		{"unknown state", Job{State: 9}, Unclassified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.class, r.Classify(tc.job))
		})
	}
}

func TestClassifyCustomCodes(t *testing.T) {
	r := Rules{DraftState: 10, ProvisionalState: 20, ReservedState: 30, OrderState: 40, ConfirmedStatus: 7}
	assert.Equal(t, FirmBooked, r.Classify(Job{State: 40}))
	assert.Equal(t, FirmReserved, r.Classify(Job{State: 30, Status: 7}))
	assert.Equal(t, Unclassified, r.Classify(Job{State: 4}))
}

func TestJobOverlapsIsInclusive(t *testing.T) {
	j := Job{StartsAt: day("2024-06-03"), EndsAt: day("2024-06-05")}
	assert.True(t, j.Overlaps(day("2024-06-01"), day("2024-06-03")))
	assert.True(t, j.Overlaps(day("2024-06-05"), day("2024-06-07")))
	assert.False(t, j.Overlaps(day("2024-06-06"), day("2024-06-07")))
	assert.False(t, Job{}.Overlaps(day("2024-06-01"), day("2024-06-30")))
}

func TestLineItemOverlapsIsExclusive(t *testing.T) {
	li := LineItem{StartsAt: day("2024-06-03"), EndsAt: day("2024-06-05")}
	assert.False(t, li.Overlaps(day("2024-06-01"), day("2024-06-03")))
	assert.False(t, li.Overlaps(day("2024-06-05"), day("2024-06-07")))
	assert.True(t, li.Overlaps(day("2024-06-04"), day("2024-06-04")))
	assert.True(t, LineItem{}.Overlaps(day("2024-06-01"), day("2024-06-02")))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Job #12", Job{ID: 12}.DisplayName())
	long := Job{ID: 1, Name: strings.Repeat("x", 80)}
	assert.Len(t, long.DisplayName(), 50)
}

func TestParseRange(t *testing.T) {
	s, e, err := ParseRange("2024-06-01", "2024-06-03T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, day("2024-06-01"), s)
	assert.Equal(t, day("2024-06-03").Add(12*time.Hour), e)

	_, _, err = ParseRange("2024-06-03", "2024-06-01")
	assert.Error(t, err)
	_, _, err = ParseRange("yesterday", "2024-06-01")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Job{ID: 1}.Validate())
	assert.NoError(t, Job{ID: 1, StartsAt: day("2024-06-01"), EndsAt: day("2024-06-01")}.Validate())
	assert.Error(t, Job{}.Validate())
	assert.Error(t, Job{ID: 2, StartsAt: day("2024-06-03"), EndsAt: day("2024-06-01")}.Validate())
}
