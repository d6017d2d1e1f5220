package curator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAdvertisement(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
		want bool
	}{
		{"scheme url", "Check https://example.com", true},
		{"www url", "see www.example.org for more", true},
		{"bare domain", "visit shop.example/sale", true},
		{"handle", "follow @news_channel", true},
		{"hashtag", "#реклама", true},
		{"latin hashtag", "weekend #sale", true},
		{"plain", "Just a regular caption", false},
		{"empty", "", false},
		{"lonely symbols", "a @ b # c", false},
		{"cyrillic sentence", "Сегодня в городе тепло и солнечно", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsAdvertisement(tc.text))
		})
	}
}

func TestHashtagLengthLimit(t *testing.T) {
	t.Parallel()

	require.True(t, IsAdvertisement("#"+strings.Repeat("a", 64)))
	require.False(t, IsAdvertisement("#"+strings.Repeat("a", 65)))
	require.True(t, IsAdvertisement("@"+strings.Repeat("b", 32)+" hi"))
	require.False(t, IsAdvertisement("@"+strings.Repeat("b", 33)))
}

func TestStripTrailingLinks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"handles and tags", "Hello world\n@channel\n#promo", "Hello world"},
		{"blank lines between", "Body\n\n  \nhttps://t.me/x\n\n", "Body"},
		{"anchor footer", "News text\n<a href=\"https://t.me/+abc\">Subscribe</a>", "News text"},
		{"link in body kept", "Read https://example.com today\nfinal words", "Read https://example.com today\nfinal words"},
		{"all links", "@a\n#b", ""},
		{"empty", "", ""},
		{"crlf", "Line\r\n@x", "Line"},
		{"lone cr", "Line\r@x", "Line"},
		{"vertical tab and form feed", "Line\v@x\f#tag", "Line"},
		{"unicode line separator", "Line\u2028https://t.me/x\u2029", "Line"},
		{"separators inside body become newlines", "One\rTwo\n@x", "One\nTwo"},
		{"repairs cut markup", "<b>Headline\n<i>@promo</i></b>", "<b>Headline</b>"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, StripTrailingLinks(tc.in))
		})
	}
}

func TestRepairTags(t *testing.T) {
	t.Parallel()

	require.Equal(t, "<b>bold text</b>", RepairTags("<b>bold text"))
	require.Equal(t, "<b><i>x</b></i>", RepairTags("<b><i>x</b>"))
	require.Equal(t, "<b>ok</b>", RepairTags("<b>ok</b>"))
	require.Equal(t, "<u><s>a</u></s>", RepairTags("<u><s>a</u>"))
	require.Equal(t, "<B>x</b>", RepairTags("<B>x"))
	require.Equal(t, "plain </i>", RepairTags("plain </i>"))
	require.Equal(t, `<a href="x"><b>x</b></a>`, RepairTags(`<a href="x"><b>x</b></a>`))
	require.Equal(t, "<b><i><u>x</u></i></b>", RepairTags("<b><i><u>x"))
}

func TestAddFooter(t *testing.T) {
	t.Parallel()

	require.Empty(t, AddFooter("", "https://t.me/+abc", "Daily"))
	require.Empty(t, AddFooter("  \n ", "https://t.me/+abc", "Daily"))

	got := AddFooter("Body text\n", "https://t.me/+abc", "Daily")
	require.Equal(t, "Body text\n\n<a href=\"https://t.me/+abc\"><b>Daily — новости</b></a>", got)
	require.True(t, strings.HasSuffix(got, Footer("https://t.me/+abc", "Daily")))

	got = AddFooter("Body text\u00a0\u3000 ", "https://t.me/+abc", "Daily")
	require.Equal(t, "Body text"+Footer("https://t.me/+abc", "Daily"), got)
	require.Empty(t, AddFooter("\u00a0\u2003", "https://t.me/+abc", "Daily"))
}

func TestFooterEscapesName(t *testing.T) {
	t.Parallel()

	require.Contains(t, Footer("https://t.me/+abc", "A&B <news>"), "A&amp;B &lt;news&gt;")
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	got := Prepare("Story\n@donor", "https://t.me/+abc", "Daily")
	require.Equal(t, "Story"+Footer("https://t.me/+abc", "Daily"), got)
	require.Empty(t, Prepare("@donor", "https://t.me/+abc", "Daily"))
}
