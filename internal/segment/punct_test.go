package segment

import "testing"

func TestIsPunctuationOnly(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", true},
		{"ascii punctuation", `.,!?;:'"()[]{}<>-_/\|@#$%^&*~`, true},
		{"whitespace", " \t\n\r", true},
		{"fullwidth space", "　", true},
		{"japanese delimiters", "。、！？・", true},
		{"cjk quotes and brackets", "「」『』【】〈〉《》（）", true},
		{"dashes", "—–−〜", true},
		{"ellipses", "……・・・", true},
		{"math symbols", "+=×÷±√∞", true},
		{"arrows", "→←↑↓⇒⇔", true},
		{"zero width marks", "​‌‍\ufeff⁠", true},
		{"variation selector", "️", true},
		{"mixed punctuation", "。。。！？…「」　", true},
		{"hiragana", "こんにちは", false},
		{"single letter among punctuation", "。。。a。。。", false},
		{"kanji with delimiters", "天気。", false},
		{"digit", "3", false},
		{"letter with zero width", "​こ​", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPunctuationOnly(tc.in); got != tc.want {
				t.Fatalf("IsPunctuationOnly(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
