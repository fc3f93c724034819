package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateArithmetic(t *testing.T) {
	d := Date{Year: 2024, Month: time.December, Day: 30}

	assert.Equal(t, Date{Year: 2025, Month: time.January, Day: 2}, d.AddDays(3))
	assert.Equal(t, Date{Year: 2024, Month: time.November, Day: 30}, d.AddDays(-30))
	assert.Equal(t, 3, d.AddDays(3).DaysSince(d))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.Equal(t, 0, d.Compare(Date{Year: 2024, Month: time.December, Day: 30}))
}

func TestDateAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	// Clocks go back on 2024-10-27; 24h after midnight is still the 27th.
	d := Date{Year: 2024, Month: time.October, Day: 27}
	assert.Equal(t, Date{Year: 2024, Month: time.October, Day: 28}, d.AddDays(1))
	assert.Equal(t, d, DateOf(d.In(loc).Add(23*time.Hour)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", d.String())

	_, err = ParseDate("06/01/2024")
	assert.Error(t, err)
}

func TestMoment(t *testing.T) {
	day := Date{Year: 2024, Month: time.June, Day: 1}
	m := AllDayAt(day)
	assert.True(t, m.AllDay())
	assert.Equal(t, day, m.Date())
	assert.True(t, m.Time().IsZero())

	instant := time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC)
	tm := TimedAt(instant)
	assert.False(t, tm.AllDay())
	assert.Equal(t, day, tm.Date())
	assert.Equal(t, instant, tm.Time())
}

func TestDisplayEventStarted(t *testing.T) {
	ahead := 5 * time.Minute
	past := -time.Minute
	zero := time.Duration(0)

	assert.False(t, DisplayEvent{}.Started())
	assert.False(t, DisplayEvent{TimeToStart: &ahead}.Started())
	assert.True(t, DisplayEvent{TimeToStart: &past}.Started())
	assert.True(t, DisplayEvent{TimeToStart: &zero}.Started())
}
