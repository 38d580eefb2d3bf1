package interval

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinbook/internal/apperr"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Interval
		wantErr bool
	}{
		{"valid hour", "09:00-10:00", Interval{540, 600}, false},
		{"whole business day", "09:00-17:00", Interval{540, 1020}, false},
		{"minimum duration", "17:45-18:00", Interval{1065, 1080}, false},
		{"padding spaces", " 10:15-11:45 ", Interval{615, 705}, false},
		{"before business hours", "07:00-08:00", Interval{}, true},
		{"after close", "17:30-18:30", Interval{}, true},
		{"too short", "10:00-10:10", Interval{}, true},
		{"too long", "09:00-18:00", Interval{}, true},
		{"end before start", "11:00-10:00", Interval{}, true},
		{"empty", "", Interval{}, true},
		{"single digit hour", "9:00-10:00", Interval{}, true},
		{"bad minute", "09:75-10:00", Interval{}, true},
		{"words", "morning", Interval{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperr.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverlaps(t *testing.T) {
	a := Interval{540, 600}

	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", Interval{540, 600}, true},
		{"partial right", Interval{570, 630}, true},
		{"partial left", Interval{500, 541}, true},
		{"contained", Interval{555, 570}, true},
		{"containing", Interval{500, 700}, true},
		{"touching end", Interval{600, 660}, false},
		{"touching start", Interval{480, 540}, false},
		{"disjoint", Interval{700, 760}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(a), "overlap must be symmetric")
		})
	}
}

func TestOverlapsSymmetricOnGrid(t *testing.T) {
	for s1 := 540; s1 < 1080; s1 += 45 {
		for s2 := 540; s2 < 1080; s2 += 30 {
			a := Interval{s1, s1 + 60}
			b := Interval{s2, s2 + 90}
			assert.Equal(t, a.Overlaps(b), b.Overlaps(a), "%s vs %s", a, b)
		}
	}
}

func TestIntervalHelpers(t *testing.T) {
	iv := Interval{570, 630}

	assert.Equal(t, 60, iv.Duration())
	assert.Equal(t, "09:30-10:30", iv.String())
	assert.Equal(t, Interval{600, 660}, iv.Shift(600))
	assert.True(t, Interval{540, 660}.Contains(iv))
	assert.False(t, Interval{600, 660}.Contains(iv))
}

func TestRulesNewAndValidate(t *testing.T) {
	iv, err := DefaultRules.New(600, 645)
	require.NoError(t, err)
	assert.Equal(t, 45, iv.Duration())

	_, err = DefaultRules.New(1050, 1110)
	assert.Error(t, err)

	assert.NoError(t, DefaultRules.Validate())
	assert.Error(t, Rules{Open: 600, Close: 540, MinDuration: 15, MaxDuration: 60, Step: 15}.Validate())
	assert.Error(t, Rules{Open: 540, Close: 1080, MinDuration: 0, MaxDuration: 60, Step: 15}.Validate())
	assert.Error(t, Rules{Open: 540, Close: 1080, MinDuration: 15, MaxDuration: 60}.Validate())
}

func TestParseMinute(t *testing.T) {
	m, err := ParseMinute("24:00")
	require.NoError(t, err)
	assert.Equal(t, MinutesPerDay, m)

	_, err = ParseMinute("24:30")
	assert.Error(t, err)

	assert.Equal(t, "08:05", FormatMinute(485))
}

func TestJSONRoundTripUsesCanonicalText(t *testing.T) {
	payload, err := json.Marshal(map[string]Interval{"interval": {540, 600}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"interval":"09:00-10:00"}`, string(payload))

	var decoded struct {
		Interval Interval `json:"interval"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"interval":"10:00-10:30"}`), &decoded))
	assert.Equal(t, Interval{600, 630}, decoded.Interval)
}
