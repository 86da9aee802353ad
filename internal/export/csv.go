package export

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/plausibility"
	"github.com/sells-group/habitat-cli/internal/suitability"
	"github.com/sells-group/habitat-cli/internal/trajectory"
)

type scoreRecord struct {
	Class     string  `csv:"class"`
	TP        int     `csv:"tp"`
	FP        int     `csv:"fp"`
	FN        int     `csv:"fn"`
	TN        int     `csv:"tn"`
	Precision float64 `csv:"precision"`
	Recall    float64 `csv:"recall"`
	F1        float64 `csv:"f1"`
}

type foldRecord struct {
	Region         int `csv:"region"`
	TrainPresences int `csv:"train_presences"`
	TrainAbsences  int `csv:"train_absences"`
	ValPresences   int `csv:"val_presences"`
	ValAbsences    int `csv:"val_absences"`
	TP             int `csv:"tp"`
	FP             int `csv:"fp"`
	FN             int `csv:"fn"`
	TN             int `csv:"tn"`
}

type countRecord struct {
	Mask     string  `csv:"mask"`
	Category int     `csv:"category"`
	Label    string  `csv:"label"`
	Count    int     `csv:"count"`
	Share    float64 `csv:"share"`
}

type visitRecord struct {
	Row    int     `csv:"row"`
	Col    int     `csv:"col"`
	X      float64 `csv:"x"`
	Y      float64 `csv:"y"`
	Entry  string  `csv:"entry"`
	Exit   string  `csv:"exit"`
	DwellS float64 `csv:"dwell_s"`
	Fixes  int     `csv:"fixes"`
}

func encodeAll[T any](w io.Writer, records []T, what string) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(records) == 0 {
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return eris.Wrapf(err, "export: encode %s header", what)
		}
	}
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return eris.Wrapf(err, "export: encode %s row %d", what, i)
		}
	}
	cw.Flush()
	return eris.Wrapf(cw.Error(), "export: flush %s", what)
}

// WriteScoresCSV writes one row per class. Undefined scores are written as
// NaN.
func WriteScoresCSV(w io.Writer, table suitability.ScoreTable) error {
	out := make([]scoreRecord, len(table))
	for i, r := range table {
		out[i] = scoreRecord{
			Class: string(r.Class), TP: r.TP, FP: r.FP, FN: r.FN, TN: r.TN,
			Precision: r.Precision, Recall: r.Recall, F1: r.F1,
		}
	}
	return encodeAll(w, out, "scores")
}

// WriteFoldsCSV writes the per-fold sample sizes and presence tallies.
func WriteFoldsCSV(w io.Writer, folds []suitability.FoldResult) error {
	out := make([]foldRecord, len(folds))
	for i, f := range folds {
		out[i] = foldRecord{
			Region:         f.Region,
			TrainPresences: f.TrainPresences,
			TrainAbsences:  f.TrainAbsences,
			ValPresences:   f.ValPresences,
			ValAbsences:    f.ValAbsences,
			TP:             f.Presence.TP,
			FP:             f.Presence.FP,
			FN:             f.Presence.FN,
			TN:             f.Presence.TN,
		}
	}
	return encodeAll(w, out, "folds")
}

// WriteCountsCSV writes the plausibility report in long form, one row per
// (mask, category).
func WriteCountsCSV(w io.Writer, rep *plausibility.Report) error {
	out := make([]countRecord, 0, len(rep.Masks)*len(rep.Categories))
	for m, name := range rep.Masks {
		for k, cat := range rep.Categories {
			out = append(out, countRecord{
				Mask:     name,
				Category: cat,
				Label:    rep.Labels[k],
				Count:    rep.Counts[m][k],
				Share:    rep.Relative[m][k],
			})
		}
	}
	return encodeAll(w, out, "counts")
}

// WriteVisitsCSV writes reduced visit records.
func WriteVisitsCSV(w io.Writer, visits []trajectory.VisitRecord) error {
	out := make([]visitRecord, len(visits))
	for i, v := range visits {
		out[i] = visitRecord{
			Row:    v.Cell.Row,
			Col:    v.Cell.Col,
			X:      v.Point.X,
			Y:      v.Point.Y,
			Entry:  v.Entry.UTC().Format(time.RFC3339),
			Exit:   v.Exit.UTC().Format(time.RFC3339),
			DwellS: v.Dwell.Seconds(),
			Fixes:  v.Fixes,
		}
	}
	return encodeAll(w, out, "visits")
}
