package dialogue

import (
	"reflect"
	"testing"
)

func collect(seg *Segmenter, deltas ...string) []string {
	var out []string
	for _, d := range deltas {
		out = append(out, seg.Push(d)...)
	}
	if t := seg.Flush(); t != "" {
		out = append(out, t)
	}
	return out
}

func TestSegmenterTerminalPunctuation(t *testing.T) {
	seg := NewSegmenter(12, 80)
	got := collect(seg, "안녕하세요. 잘 지내셨어요? 네!")
	want := []string{"안녕하세요.", "잘 지내셨어요?", "네!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSegmenterFullWidthPunctuation(t *testing.T) {
	seg := NewSegmenter(12, 80)
	got := collect(seg, "식사는 하셨어요？약도 드셨죠。")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %q", got)
	}
}

func TestSegmenterCommaSplitsOnlyPastMin(t *testing.T) {
	seg := NewSegmenter(12, 80)
	// first comma arrives before 12 runes, second after
	got := collect(seg, "네, 오늘은 날씨가 좋아서 산책했어요, 그리고 쉬었어요.")
	if len(got) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %q", len(got), got)
	}
	if got[0] != "네, 오늘은 날씨가 좋아서 산책했어요," {
		t.Fatalf("unexpected first piece %q", got[0])
	}
}

func TestSegmenterMaxLengthForceSplit(t *testing.T) {
	seg := NewSegmenter(2, 10)
	long := "가나다라마바사아자차카타파하"
	got := collect(seg, long)
	if len(got) < 2 {
		t.Fatalf("expected forced split, got %q", got)
	}
	for _, s := range got[:len(got)-1] {
		if n := len([]rune(s)); n > 10 {
			t.Errorf("piece %q exceeds max (%d runes)", s, n)
		}
	}
}

func TestSegmenterTrailingFlush(t *testing.T) {
	seg := NewSegmenter(12, 80)
	if out := seg.Push("마지막 말은 점 없이 끝나요"); len(out) != 0 {
		t.Fatalf("unexpected early emission %q", out)
	}
	if got := seg.Flush(); got != "마지막 말은 점 없이 끝나요" {
		t.Fatalf("unexpected flush %q", got)
	}
	if seg.Flush() != "" {
		t.Fatal("second flush must be empty")
	}
}

func TestSegmenterSplitsAcrossDeltas(t *testing.T) {
	seg := NewSegmenter(12, 80)
	got := collect(seg, "오늘", "은 좋은 날", "이에요. 정말", "요.")
	want := []string{"오늘은 좋은 날이에요.", "정말요."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}
