package timeutil_test

import (
	"testing"
	"time"

	"telegram-history-mcp/internal/infra/timeutil"
)

func TestParseFlexibleTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		want     time.Time
		dateOnly bool
		wantErr  bool
	}{
		{
			name:     "dateOnly",
			input:    "2024-01-15",
			want:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			dateOnly: true,
		},
		{
			name:  "rfc3339",
			input: "2024-01-15T12:30:00Z",
			want:  time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "naiveDatetimeTreatedAsUTC",
			input: "2024-01-15T12:30:00",
			want:  time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
		},
		{
			name:    "nonUTCOffsetRejected",
			input:   "2024-01-15T12:30:00+03:00",
			wantErr: true,
		},
		{
			name:  "explicitZeroOffsetAccepted",
			input: "2024-01-15T12:30:00+00:00",
			want:  time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "unixSeconds",
			input: "1705276800",
			want:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "unixSecondsWithSpaces",
			input: "  1705276800  ",
			want:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "negativeUnixRejected",
			input:   "-5",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "tomorrow",
			wantErr: true,
		},
		{
			name:    "dateWithWrongSeparators",
			input:   "15.01.2024",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, dateOnly, err := timeutil.ParseFlexibleTime(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseFlexibleTime(%q) = %v, want error", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFlexibleTime(%q) unexpected error: %v", tc.input, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("ParseFlexibleTime(%q) = %v, want %v", tc.input, got, tc.want)
			}
			if dateOnly != tc.dateOnly {
				t.Fatalf("ParseFlexibleTime(%q) dateOnly = %v, want %v", tc.input, dateOnly, tc.dateOnly)
			}
			if got.Location() != time.UTC {
				t.Fatalf("ParseFlexibleTime(%q) location = %v, want UTC", tc.input, got.Location())
			}
		})
	}
}

func TestDayBounds(t *testing.T) {
	t.Parallel()

	moment := time.Date(2024, 1, 15, 13, 45, 12, 999, time.UTC)

	if got, want := timeutil.DayStart(moment), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("DayStart = %v, want %v", got, want)
	}
	if got, want := timeutil.DayEnd(moment), time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("DayEnd = %v, want %v", got, want)
	}
}

func TestFormatUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	moment := time.Date(2024, 1, 15, 15, 30, 0, 0, loc)

	if got, want := timeutil.FormatUTC(moment), "2024-01-15T12:30:00Z"; got != want {
		t.Fatalf("FormatUTC = %q, want %q", got, want)
	}
}
