package state

import (
	"strings"
	"testing"

	"storyreel/internal/timeline"
)

func fingerprintTestSpec() timeline.SegmentSpec {
	return timeline.SegmentSpec{
		Index:           3,
		SourceVideoPath: "/media/clip003.mp4",
		CaptionText:     "The old harbor",
		CreditText:      "Footage: J. Alvarez",
		DurationSeconds: 7.5,
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(fingerprintTestSpec())
	b := Fingerprint(fingerprintTestSpec())
	if a != b {
		t.Errorf("fingerprint not stable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Errorf("fingerprint missing prefix: %q", a)
	}
}

func TestFingerprintChangesWithCaption(t *testing.T) {
	base := Fingerprint(fingerprintTestSpec())

	spec := fingerprintTestSpec()
	spec.CaptionText = "The new harbor"
	if Fingerprint(spec) == base {
		t.Error("caption change did not change fingerprint")
	}
}

func TestFingerprintChangesWithSource(t *testing.T) {
	base := Fingerprint(fingerprintTestSpec())

	spec := fingerprintTestSpec()
	spec.SourceVideoPath = "/media/clip004.mp4"
	if Fingerprint(spec) == base {
		t.Error("source change did not change fingerprint")
	}
}

func TestFingerprintIgnoresSubDecisecondJitter(t *testing.T) {
	a := fingerprintTestSpec()
	a.DurationSeconds = 7.5

	b := fingerprintTestSpec()
	b.DurationSeconds = 7.52

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("duration jitter below 0.1s changed the fingerprint")
	}

	c := fingerprintTestSpec()
	c.DurationSeconds = 7.7
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("0.2s duration change did not change the fingerprint")
	}
}

func TestRoundDecis(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{7.5, 75},
		{7.54, 75},
		{7.58, 76},
		{60.0, 600},
	}
	for _, tc := range cases {
		if got := RoundDecis(tc.in); got != tc.want {
			t.Errorf("RoundDecis(%v): got %d, want %d", tc.in, got, tc.want)
		}
	}
}
