package sanitize

import "testing"

func TestTextRemovesEmojiAndURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hi http://x.co 😀", "hi "},
		{"안녕하세요 {:d_47:}", "안녕하세요 "},
		{"www.example.com 방송 재밌다", "방송 재밌다"},
		{"HTTPS://EXAMPLE.COM/path", ""},
		{"👍🏻 좋아요", " 좋아요"},
		{"plain text stays", "plain text stays"},
		{"{:not closed", "{:not closed"},
		{"🇰🇷 대한민국", " 대한민국"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := Text(tc.in); got != tc.want {
			t.Fatalf("Text(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTextReachesFixpoint(t *testing.T) {
	// 删除 emoji 后拼出新的表情占位符。
	in := "{😀:a:😀} ok"
	got := Text(in)
	if got != " ok" {
		t.Fatalf("Text(%q) = %q", in, got)
	}
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"hi http://x.co 😀",
		"{:{:x:}:}",
		"www.😀a.com b",
		"ㅋㅋㅋ ☀️ {:smile:} https://chzzk.naver.com/live/abc 끝",
		"‍️",
		"mixed 🎉🎉 www. text",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestTextKeepsOtherCharacters(t *testing.T) {
	in := "가나다 abc 123 !?.,"
	if got := Text(in); got != in {
		t.Fatalf("Text(%q) = %q", in, got)
	}
}
