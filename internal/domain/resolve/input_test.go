package resolve_test

import (
	"strings"
	"testing"

	"github.com/go-faster/errors"

	"telegram-history-mcp/internal/domain/resolve"
)

func TestParseInputForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       string
		want      resolve.Input
		canonical string
	}{
		{
			name:      "mention",
			raw:       "@GoNews",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormUsername, Username: "gonews"},
			canonical: "@gonews",
		},
		{
			name:      "bareUsername",
			raw:       "gonews",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormUsername, Username: "gonews"},
			canonical: "@gonews",
		},
		{
			name:      "tmeLink",
			raw:       "https://t.me/gonews",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormURL, Username: "gonews"},
			canonical: "@gonews",
		},
		{
			name:      "tmeLinkTopicTailIgnored",
			raw:       "https://t.me/gonews/215",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormURL, Username: "gonews"},
			canonical: "@gonews",
		},
		{
			name:      "tmeLinkPlainHTTP",
			raw:       "http://T.me/GoNews",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormURL, Username: "gonews"},
			canonical: "@gonews",
		},
		{
			name:      "tmeLinkTrailingSlash",
			raw:       "https://t.me/gonews/",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormURL, Username: "gonews"},
			canonical: "@gonews",
		},
		{
			name:      "positiveID",
			raw:       "777000",
			want:      resolve.Input{Kind: resolve.InputID, Form: resolve.FormNumeric, ID: 777000},
			canonical: "777000",
		},
		{
			name:      "channelCanonicalID",
			raw:       "-1001234567890",
			want:      resolve.Input{Kind: resolve.InputID, Form: resolve.FormNumeric, ID: -1001234567890},
			canonical: "-1001234567890",
		},
		{
			name:      "surroundingWhitespace",
			raw:       "  @gonews\n",
			want:      resolve.Input{Kind: resolve.InputUsername, Form: resolve.FormUsername, Username: "gonews"},
			canonical: "@gonews",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := resolve.ParseInput(tc.raw)
			if err != nil {
				t.Fatalf("ParseInput(%q) error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("ParseInput(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
			if canon := got.Canonical(); canon != tc.canonical {
				t.Fatalf("Canonical() = %q, want %q", canon, tc.canonical)
			}
		})
	}
}

func TestParseInputRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespaceOnly", raw: "   "},
		{name: "mentionTooShort", raw: "@abc"},
		{name: "mentionTooLong", raw: "@" + strings.Repeat("a", 33)},
		{name: "mentionWithDash", raw: "@go-news"},
		{name: "mentionDigitsOnly", raw: "@12345"},
		{name: "usernameStartsWithDigit", raw: "1gonews"},
		{name: "foreignHost", raw: "https://example.com/gonews"},
		{name: "spaceInside", raw: "go news"},
		{name: "tmeInviteLink", raw: "https://t.me/+AbCdEf123456"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := resolve.ParseInput(tc.raw)
			if !errors.Is(err, resolve.ErrUsernameInvalid) {
				t.Fatalf("ParseInput(%q) error = %v, want ErrUsernameInvalid", tc.raw, err)
			}
		})
	}
}

func TestCanonicalIDRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		peerKind string
		id       int64
		want     int64
	}{
		{name: "user", peerKind: "user", id: 777000, want: 777000},
		{name: "basicGroup", peerKind: "chat", id: 4123, want: -4123},
		{name: "channel", peerKind: "channel", id: 1234567890, want: -1001234567890},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cid := resolve.CanonicalID(tc.peerKind, tc.id)
			if cid != tc.want {
				t.Fatalf("CanonicalID(%q, %d) = %d, want %d", tc.peerKind, tc.id, cid, tc.want)
			}
			kind, id := resolve.FromCanonicalID(cid)
			if kind != tc.peerKind || id != tc.id {
				t.Fatalf("FromCanonicalID(%d) = (%q, %d), want (%q, %d)", cid, kind, id, tc.peerKind, tc.id)
			}
		})
	}
}

func TestChatRefPeer(t *testing.T) {
	t.Parallel()

	ref := resolve.ChatRef{CanonicalID: -1001234567890, Kind: resolve.KindChannel, Username: "gonews"}
	peer := ref.Peer()
	if peer.Kind != "channel" || peer.ID != 1234567890 {
		t.Fatalf("Peer() = %#v, want channel/1234567890", peer)
	}
}
