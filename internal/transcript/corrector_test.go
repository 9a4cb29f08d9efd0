package transcript

import (
	"testing"
)

func TestFold(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Đà Nẵng":   "da nang",
		"Huế":       "hue",
		"trường":    "truong",
		"plain":     "plain",
		"MixedCASE": "mixedcase",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCorrectRestoresDiacritics(t *testing.T) {
	t.Parallel()
	c := NewCorrector([]string{"Đà Nẵng", "Huế"})
	got, corrections := c.Correct("tôi muốn bay từ đà nẳng ra huê")
	want := "tôi muốn bay từ Đà Nẵng ra Huế"
	if got != want {
		t.Errorf("Correct = %q, want %q", got, want)
	}
	if len(corrections) != 2 {
		t.Fatalf("corrections = %d, want 2", len(corrections))
	}
	if corrections[0].Corrected != "Đà Nẵng" || corrections[0].Confidence != 1 {
		t.Errorf("first correction = %+v", corrections[0])
	}
}

func TestCorrectJoinsSplitTerms(t *testing.T) {
	t.Parallel()
	c := NewCorrector([]string{"Vinmec"})
	got, corrections := c.Correct("tôi khám ở vin mec hôm qua")
	if got != "tôi khám ở Vinmec hôm qua" {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 1 || corrections[0].Original != "vin mec" {
		t.Errorf("corrections = %+v", corrections)
	}
}

func TestCorrectKeepsPunctuation(t *testing.T) {
	t.Parallel()
	c := NewCorrector([]string{"Huế"})
	got, _ := c.Correct("tôi đến huê, rồi về")
	if got != "tôi đến Huế, rồi về" {
		t.Errorf("Correct = %q", got)
	}
}

func TestCorrectLeavesUnrelatedText(t *testing.T) {
	t.Parallel()
	c := NewCorrector([]string{"Vietcombank"})
	in := "cho tôi hỏi giờ mở cửa"
	got, corrections := c.Correct(in)
	if got != in {
		t.Errorf("Correct = %q, want unchanged", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %+v, want none", corrections)
	}
}

func TestCorrectExactTermNotRecorded(t *testing.T) {
	t.Parallel()
	c := NewCorrector([]string{"Đà Nẵng"})
	got, corrections := c.Correct("Đà Nẵng đẹp lắm")
	if got != "Đà Nẵng đẹp lắm" {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %+v, want none for already-correct text", corrections)
	}
}

func TestCorrectEmptyVocabulary(t *testing.T) {
	t.Parallel()
	c := NewCorrector(nil)
	in := "xin chào"
	if got, _ := c.Correct(in); got != in {
		t.Errorf("Correct = %q, want passthrough", got)
	}
}
