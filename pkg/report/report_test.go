package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"gendispatch/pkg/driver"
	"gendispatch/pkg/vm"
)

func sampleReport() Report {
	return Report{
		Name:     "sample",
		Threads:  2,
		Steps:    3,
		Methods:  []string{"print.array", "print.default"},
		Failures: []string{"thread 0, step 1 (get): expected 1L, got 2L"},
		Stats: driver.Stats{
			ICacheStats: vm.ICacheStats{
				TotalHits:    1500,
				TotalMisses:  500,
				ConstantHits: 1500,
				Shapes:       12,
				Sites: []vm.SiteStats{
					{Site: 0, Tier: "CONSTANT_LAYOUT", Entries: 2, ConstantHits: 1500, Misses: 2},
					{Site: 11, Tier: "MEGAMORPHIC", MegaLookups: 40, Misses: 498},
				},
			},
			Dispatches:    1234,
			Continuations: 7,
		},
	}
}

func TestWriteText(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	if err := Write(&buf, FormatText, sampleReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"sample  3 step(s) x 2 thread(s)  FAIL (1)",
		"expected 1L, got 2L",
		"methods (2) print.array, print.default",
		"dispatches 1,234, continuations 7",
		"cache hits 1,500, misses 500 (75.0%)",
		"SITE  TIER             ENTRIES",
		"11    MEGAMORPHIC",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWriteTextPass(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := sampleReport()
	r.Failures = nil
	r.Stats.Sites = nil
	if err := Write(&buf, "", r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "PASS") || strings.Contains(buf.String(), "SITE") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := sampleReport()
	if err := Write(&buf, FormatMsgpack, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := ReadMsgpack(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one report, got %d", len(out))
	}
	got := out[0]
	if got.Name != in.Name || len(got.Methods) != 2 || got.Stats.Dispatches != 1234 || got.Stats.TotalHits != 1500 {
		t.Errorf("unexpected decoded report %+v", got)
	}
	if len(got.Stats.Sites) != 2 || got.Stats.Sites[1].Tier != "MEGAMORPHIC" {
		t.Errorf("unexpected decoded sites %+v", got.Stats.Sites)
	}
}

func TestUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "csv", sampleReport()); err == nil {
		t.Errorf("expected an error for an unknown format")
	}
}
