// Package report renders scenario results and runtime statistics as a
// colored text table or as msgpack.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"gendispatch/pkg/driver"
	"gendispatch/pkg/scenario"
)

const (
	FormatText    = "text"
	FormatMsgpack = "msgpack"
)

// Report is the serializable summary of a run.
type Report struct {
	Name     string       `msgpack:"name"`
	Threads  int          `msgpack:"threads"`
	Steps    int          `msgpack:"steps"`
	Methods  []string     `msgpack:"methods"`
	Failures []string     `msgpack:"failures"`
	Stats    driver.Stats `msgpack:"stats"`
}

// FromResult converts a scenario result.
func FromResult(res *scenario.Result) Report {
	r := Report{
		Name:    res.Name,
		Threads: res.Threads,
		Steps:   res.Steps,
		Methods: res.Methods,
		Stats:   res.Stats,
	}
	for _, f := range res.Failures {
		r.Failures = append(r.Failures, f.Error())
	}
	return r
}

// Write renders reports in the given format.
func Write(w io.Writer, format string, reports ...Report) error {
	switch format {
	case "", FormatText:
		for _, r := range reports {
			if err := writeText(w, r); err != nil {
				return err
			}
		}
		return nil
	case FormatMsgpack:
		return errors.Wrap(msgpack.NewEncoder(w).Encode(reports), "encoding report")
	default:
		return errors.Errorf("unknown report format %q", format)
	}
}

// ReadMsgpack decodes what Write produced with FormatMsgpack.
func ReadMsgpack(r io.Reader) ([]Report, error) {
	var out []Report
	if err := msgpack.NewDecoder(r).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decoding report")
	}
	return out, nil
}

var (
	headColor = color.New(color.Bold)
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
)

func tierColor(tier string) *color.Color {
	switch tier {
	case "CONSTANT_LAYOUT":
		return color.New(color.FgGreen)
	case "VALIDATED_SHAPE":
		return color.New(color.FgYellow)
	case "MEGAMORPHIC":
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

var siteColumns = []string{"SITE", "TIER", "ENTRIES", "CONST", "VALID", "MEGA", "MISS", "STALE"}

func writeText(w io.Writer, r Report) error {
	p := message.NewPrinter(language.English)
	name := r.Name
	if name == "" {
		name = "(unnamed)"
	}
	headColor.Fprintf(w, "%s", name)
	fmt.Fprintf(w, "  %d step(s) x %d thread(s)  ", r.Steps, r.Threads)
	if len(r.Failures) == 0 {
		passColor.Fprintln(w, "PASS")
	} else {
		failColor.Fprintf(w, "FAIL (%d)\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	if len(r.Methods) > 0 {
		p.Fprintf(w, "  methods (%d) %s\n", len(r.Methods), strings.Join(r.Methods, ", "))
	}
	s := r.Stats
	p.Fprintf(w, "  dispatches %d, continuations %d, failures %d\n", s.Dispatches, s.Continuations, s.Failures)
	p.Fprintf(w, "  cache hits %d, misses %d (%.1f%%), stale %d\n", s.TotalHits, s.TotalMisses, s.HitRate(), s.Stale)
	p.Fprintf(w, "  shapes %d, retired %d, transition conflicts %d\n", s.Shapes, s.RetiredShapes, s.Conflicts)
	if len(s.Sites) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(s.Sites))
	for _, site := range s.Sites {
		rows = append(rows, []string{
			p.Sprintf("%d", site.Site),
			site.Tier,
			p.Sprintf("%d", site.Entries),
			p.Sprintf("%d", site.ConstantHits),
			p.Sprintf("%d", site.ValidatedHits),
			p.Sprintf("%d", site.MegaLookups),
			p.Sprintf("%d", site.Misses),
			p.Sprintf("%d", site.Stale),
		})
	}
	widths := make([]int, len(siteColumns))
	for i, c := range siteColumns {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	header := make([]string, len(siteColumns))
	for i, c := range siteColumns {
		header[i] = runewidth.FillRight(c, widths[i])
	}
	headColor.Fprintf(w, "  %s\n", strings.TrimRight(strings.Join(header, "  "), " "))
	for _, row := range rows {
		fmt.Fprint(w, "  ")
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, "  ")
			}
			padded := runewidth.FillRight(cell, widths[i])
			if i == len(row)-1 {
				padded = cell
			}
			if i == 1 {
				tierColor(cell).Fprint(w, padded)
			} else {
				fmt.Fprint(w, padded)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}
