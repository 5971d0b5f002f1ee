package history_test

import (
	"errors"
	"testing"
	"time"

	"telegram-history-mcp/internal/domain/history"
)

func testWindow() history.Window {
	return history.Window{
		FromUTC:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ToUTC:     time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC),
		Direction: history.DirectionDesc,
		PageSize:  50,
	}
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	in := history.Cursor{
		OffsetID:     1100,
		OffsetDate:   1700000000,
		Direction:    history.DirectionDesc,
		FetchedCount: 100,
		WindowHash:   history.WindowHash("-100123", testWindow()),
	}

	token := in.Encode()
	if token == "" {
		t.Fatal("Encode() = empty token")
	}

	out, err := history.DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if out != in {
		t.Fatalf("DecodeCursor() = %+v, want %+v", out, in)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		token string
	}{
		{name: "notBase64", token: "%%%not-base64%%%"},
		{name: "base64ButNotJSON", token: "bm90LWpzb24"},
		{name: "jsonWithoutRequiredFields", token: "e30"},
		{name: "emptyToken", token: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := history.DecodeCursor(tc.token)
			if !errors.Is(err, history.ErrInvalidCursor) {
				t.Fatalf("DecodeCursor(%q) error = %v, want ErrInvalidCursor", tc.token, err)
			}
		})
	}
}

func TestCursorCheckWindowDetectsDrift(t *testing.T) {
	t.Parallel()

	w := testWindow()
	c := history.Cursor{
		OffsetID:     10,
		Direction:    history.DirectionDesc,
		FetchedCount: 1,
		WindowHash:   history.WindowHash("-100123", w),
	}

	if err := c.CheckWindow("-100123", w); err != nil {
		t.Fatalf("CheckWindow() with same window error = %v", err)
	}

	drifted := w
	drifted.Search = "golang"
	if err := c.CheckWindow("-100123", drifted); !errors.Is(err, history.ErrInvalidCursor) {
		t.Fatalf("CheckWindow() with drifted window error = %v, want ErrInvalidCursor", err)
	}

	if err := c.CheckWindow("-100777", w); !errors.Is(err, history.ErrInvalidCursor) {
		t.Fatalf("CheckWindow() with another chat error = %v, want ErrInvalidCursor", err)
	}
}

func TestWindowHashStable(t *testing.T) {
	t.Parallel()

	w := testWindow()
	if history.WindowHash("-1", w) != history.WindowHash("-1", w) {
		t.Fatal("WindowHash() is not deterministic")
	}
	if len(history.WindowHash("-1", w)) != 16 {
		t.Fatalf("WindowHash() length = %d, want 16 hex chars", len(history.WindowHash("-1", w)))
	}
}

func TestWindowValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*history.Window)
		wantErr bool
	}{
		{name: "validWindow", mutate: func(*history.Window) {}, wantErr: false},
		{name: "pageSizeZero", mutate: func(w *history.Window) { w.PageSize = 0 }, wantErr: true},
		{name: "pageSizeAboveLimit", mutate: func(w *history.Window) { w.PageSize = 101 }, wantErr: true},
		{name: "unknownDirection", mutate: func(w *history.Window) { w.Direction = "sideways" }, wantErr: true},
		{
			name: "fromAfterTo",
			mutate: func(w *history.Window) {
				w.FromUTC = w.ToUTC.Add(time.Hour)
			},
			wantErr: true,
		},
		{
			name: "equalBoundsAllowed",
			mutate: func(w *history.Window) {
				w.FromUTC = w.ToUTC
			},
			wantErr: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := testWindow()
			tc.mutate(&w)
			err := w.Validate(100)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
