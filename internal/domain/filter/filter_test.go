package filter_test

import (
	"testing"

	"telegram-history-mcp/internal/domain/filter"
	"telegram-history-mcp/internal/domain/messages"
)

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func TestOptionsMatch(t *testing.T) {
	t.Parallel()

	photo := messages.Message{
		ID:        1,
		MediaType: messages.KindPhoto,
		HasMedia:  true,
		Views:     100,
		Sender:    &messages.Sender{ID: 42},
	}
	plainText := messages.Message{
		ID:        2,
		MediaType: messages.KindText,
		Views:     5,
		Sender:    &messages.Sender{ID: 7},
	}
	noSender := messages.Message{
		ID:        3,
		MediaType: messages.KindText,
	}

	cases := []struct {
		name string
		opts filter.Options
		msg  messages.Message
		want bool
	}{
		{
			name: "пустой фильтр пропускает любое сообщение",
			opts: filter.Options{},
			msg:  plainText,
			want: true,
		},
		{
			name: "медиатип из множества проходит",
			opts: filter.Options{MediaTypes: []messages.MediaKind{messages.KindPhoto, messages.KindVideo}},
			msg:  photo,
			want: true,
		},
		{
			name: "медиатип вне множества отсекается",
			opts: filter.Options{MediaTypes: []messages.MediaKind{messages.KindVideo}},
			msg:  photo,
			want: false,
		},
		{
			name: "has_media отсекает текстовые",
			opts: filter.Options{HasMedia: boolPtr(true)},
			msg:  plainText,
			want: false,
		},
		{
			name: "from_users сверяет id отправителя",
			opts: filter.Options{FromUsers: []int64{42, 43}},
			msg:  photo,
			want: true,
		},
		{
			name: "сообщение без отправителя не проходит from_users",
			opts: filter.Options{FromUsers: []int64{42}},
			msg:  noSender,
			want: false,
		},
		{
			name: "min_views включительно",
			opts: filter.Options{MinViews: intPtr(100)},
			msg:  photo,
			want: true,
		},
		{
			name: "max_views отсекает популярные",
			opts: filter.Options{MaxViews: intPtr(50)},
			msg:  photo,
			want: false,
		},
		{
			name: "условия соединяются через AND",
			opts: filter.Options{
				MediaTypes: []messages.MediaKind{messages.KindPhoto},
				MinViews:   intPtr(200),
			},
			msg:  photo,
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.opts.Match(tc.msg); got != tc.want {
				t.Fatalf("Match() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		opts    filter.Options
		wantErr bool
	}{
		{
			name: "корректный набор условий",
			opts: filter.Options{
				MediaTypes: []messages.MediaKind{messages.KindPhoto},
				MinViews:   intPtr(1),
				MaxViews:   intPtr(10),
			},
			wantErr: false,
		},
		{
			name:    "неизвестный медиатип",
			opts:    filter.Options{MediaTypes: []messages.MediaKind{"gif"}},
			wantErr: true,
		},
		{
			name:    "отрицательный min_views",
			opts:    filter.Options{MinViews: intPtr(-1)},
			wantErr: true,
		},
		{
			name:    "min_views больше max_views",
			opts:    filter.Options{MinViews: intPtr(10), MaxViews: intPtr(5)},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.opts.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestOptionsCanonicalStableOrder(t *testing.T) {
	t.Parallel()

	a := filter.Options{
		MediaTypes: []messages.MediaKind{messages.KindVideo, messages.KindPhoto},
		FromUsers:  []int64{99, 7},
		HasMedia:   boolPtr(true),
	}
	b := filter.Options{
		MediaTypes: []messages.MediaKind{messages.KindPhoto, messages.KindVideo},
		FromUsers:  []int64{7, 99},
		HasMedia:   boolPtr(true),
	}

	if a.Canonical() != b.Canonical() {
		t.Fatalf("Canonical() differs for equal sets: %q vs %q", a.Canonical(), b.Canonical())
	}
	want := "media_types=photo,video;has_media=true;from_users=7,99"
	if got := a.Canonical(); got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
	if got := (filter.Options{}).Canonical(); got != "" {
		t.Fatalf("Canonical() for empty options = %q, want empty", got)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		text  string
		query string
		want  bool
	}{
		{name: "пустой запрос пропускает всё", text: "anything", query: "", want: true},
		{name: "регистронезависимое совпадение", text: "Go Release Notes", query: "release", want: true},
		{name: "кириллица с разным регистром", text: "Свежие НОВОСТИ недели", query: "новости", want: true},
		{name: "нет вхождения", text: "plain text", query: "missing", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := filter.Search(tc.text, tc.query); got != tc.want {
				t.Fatalf("Search(%q, %q) = %v, want %v", tc.text, tc.query, got, tc.want)
			}
		})
	}
}
