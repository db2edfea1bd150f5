package render

import (
	"bytes"
	"fmt"
	"image/png"
	"testing"

	"golang.org/x/image/font/basicfont"

	"github.com/park285/cheese-scoreboard/internal/msgcat"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	return New(cat)
}

func TestPNGDimensions(t *testing.T) {
	r := newRenderer(t)
	rows := make([]scoredto.LeaderboardRow, 0, 25)
	for i := 0; i < 25; i++ {
		rows = append(rows, scoredto.LeaderboardRow{Rank: i + 1, PlayerName: fmt.Sprintf("player-%02d", i), FinalTime: int64(40000 + i*100)})
	}
	raw, err := r.PNG(rows)
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != cardWidth {
		t.Fatalf("width = %d", b.Dx())
	}
	if want := headerH + MaxRows*rowHeight + footerH + padding; b.Dy() != want {
		t.Fatalf("height = %d, want %d (rows capped at %d)", b.Dy(), want, MaxRows)
	}
}

func TestPNGEmptyBoard(t *testing.T) {
	raw, err := newRenderer(t).PNG(nil)
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPNGWithoutCatalog(t *testing.T) {
	raw, err := New(nil).PNG([]scoredto.LeaderboardRow{{Rank: 1, PlayerName: "Ada", FinalTime: 45000}})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected image bytes")
	}
}

func TestStopwatchIconRasterises(t *testing.T) {
	img, err := stopwatchIcon()
	if err != nil {
		t.Fatalf("icon: %v", err)
	}
	_, _, _, a := img.At(iconSize/2, iconSize/2+iconSize/8).RGBA()
	if a == 0 {
		t.Fatalf("expected opaque pixel inside the dial")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{0: "0:00.000", 45000: "0:45.000", 61234: "1:01.234", -5: "0:00.000"}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestClampRows(t *testing.T) {
	if ClampRows(0) != DefaultRows || ClampRows(-3) != DefaultRows || ClampRows(5) != 5 || ClampRows(99) != MaxRows {
		t.Fatalf("unexpected clamp behaviour")
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyzabcdefghij"
	got := truncateWithEllipsis(basicfont.Face7x13, long, 70)
	if len(got) >= len(long) || got[len(got)-3:] != "..." {
		t.Fatalf("expected truncated name, got %q", got)
	}
	if truncateWithEllipsis(basicfont.Face7x13, "Ada", 70) != "Ada" {
		t.Fatalf("short names are unchanged")
	}
}
