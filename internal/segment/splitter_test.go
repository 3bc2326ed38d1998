package segment

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func defaultSplitter() Splitter {
	return Splitter{
		Delimiters:     "。！？!?.",
		SoftDelimiters: "、, ",
		MaxLen:         100,
	}
}

func TestSplitAtDelimiters(t *testing.T) {
	s := Splitter{Delimiters: "。！？", MaxLen: 100}
	got := s.Split("こんにちは。今日はいい天気ですね！明日も晴れるでしょうか？")
	want := []string{"こんにちは。", "今日はいい天気ですね！", "明日も晴れるでしょうか？"}
	assertSegments(t, got, want)
}

func TestSplitConsumesConsecutiveDelimiters(t *testing.T) {
	s := Splitter{Delimiters: "。！？", MaxLen: 100}
	got := s.Split("すごい！！！本当に？？")
	want := []string{"すごい！！！", "本当に？？"}
	assertSegments(t, got, want)
}

func TestSplitTrailingTextWithoutDelimiter(t *testing.T) {
	got := defaultSplitter().Split("これで終わり")
	want := []string{"これで終わり"}
	assertSegments(t, got, want)
}

func TestSplitSoftBreakAtCap(t *testing.T) {
	s := Splitter{Delimiters: "。", SoftDelimiters: "、", MaxLen: 10}
	text := "あいうえ、かきくけこさしすせそ。"
	got := s.Split(text)
	// The cap lands mid-clause; the split backs up to the 、.
	if got[0] != "あいうえ、" {
		t.Fatalf("expected soft break after comma, got %q", got[0])
	}
	if strings.Join(got, "") != text {
		t.Fatalf("segments do not reproduce input: %q", got)
	}
}

func TestSplitHardBreakWithoutSoftDelimiter(t *testing.T) {
	s := Splitter{Delimiters: "。", SoftDelimiters: "、", MaxLen: 5}
	text := "あいうえおかきくけこ"
	got := s.Split(text)
	for _, seg := range got {
		if n := utf8.RuneCountInString(seg); n > 5 {
			t.Fatalf("segment %q exceeds cap: %d runes", seg, n)
		}
	}
	if strings.Join(got, "") != text {
		t.Fatalf("segments do not reproduce input: %q", got)
	}
}

func TestSplitLossless(t *testing.T) {
	inputs := []string{
		"",
		"。",
		"！！！",
		"こんにちは。今日はいい天気ですね！",
		"改行\nを含むテキスト。そして続き",
		"English sentences. With delimiters! And questions?",
		"長い文章で、読点だけが、延々と、続いて、いく、場合の、挙動、確認、用の、テキスト",
		strings.Repeat("あ", 500),
	}
	s := defaultSplitter()
	for _, input := range inputs {
		got := s.Split(input)
		if strings.Join(got, "") != input {
			t.Fatalf("lossless property violated for %q: %q", input, got)
		}
	}
}

func TestSplitCapProperty(t *testing.T) {
	s := Splitter{Delimiters: "。", SoftDelimiters: "、 ", MaxLen: 20}
	text := strings.Repeat("あいうえおかきくけこ、", 10) + strings.Repeat("ん", 60)
	for _, seg := range s.Split(text) {
		n := utf8.RuneCountInString(seg)
		if n <= 20 {
			continue
		}
		// Over-cap segments are only legal when no soft break exists
		// before the cap.
		head := []rune(seg)[:20]
		for _, r := range head {
			if r == '、' || r == ' ' {
				t.Fatalf("segment %q exceeds cap despite soft break", seg)
			}
		}
	}
}

func assertSegments(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
