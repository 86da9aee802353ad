package export

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/habitat-cli/internal/plausibility"
	"github.com/sells-group/habitat-cli/internal/suitability"
)

// Sheet names written by WriteWorkbook.
const (
	SheetScores   = "Scores"
	SheetFolds    = "Folds"
	SheetCounts   = "Plausibility counts"
	SheetRelative = "Plausibility shares"
)

// WriteWorkbook writes the score table, the fold table and, when rep is not
// nil, the plausibility tables to an xlsx file. NaN cells are left empty.
func WriteWorkbook(path string, scores suitability.ScoreTable, folds []suitability.FoldResult, rep *plausibility.Report) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetScores)
	if err != nil {
		return eris.Wrap(err, "export: add scores sheet")
	}
	addStrings(sheet, "class", "tp", "fp", "fn", "tn", "precision", "recall", "f1")
	for _, r := range scores {
		row := sheet.AddRow()
		row.AddCell().SetString(string(r.Class))
		for _, n := range []int{r.TP, r.FP, r.FN, r.TN} {
			row.AddCell().SetInt(n)
		}
		for _, v := range []float64{r.Precision, r.Recall, r.F1} {
			setFloat(row.AddCell(), v)
		}
	}

	sheet, err = f.AddSheet(SheetFolds)
	if err != nil {
		return eris.Wrap(err, "export: add folds sheet")
	}
	addStrings(sheet, "region", "train_presences", "train_absences", "val_presences", "val_absences", "tp", "fp", "fn", "tn")
	for _, fold := range folds {
		row := sheet.AddRow()
		for _, n := range []int{
			fold.Region, fold.TrainPresences, fold.TrainAbsences, fold.ValPresences, fold.ValAbsences,
			fold.Presence.TP, fold.Presence.FP, fold.Presence.FN, fold.Presence.TN,
		} {
			row.AddCell().SetInt(n)
		}
	}

	if rep != nil {
		if err := addReportSheet(f, SheetCounts, rep, func(m, k int) float64 { return float64(rep.Counts[m][k]) }); err != nil {
			return err
		}
		if err := addReportSheet(f, SheetRelative, rep, func(m, k int) float64 { return rep.Relative[m][k] }); err != nil {
			return err
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", path)
	}
	return nil
}

func addReportSheet(f *xlsx.File, name string, rep *plausibility.Report, value func(m, k int) float64) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", name)
	}
	header := sheet.AddRow()
	header.AddCell().SetString("mask")
	for k, label := range rep.Labels {
		header.AddCell().SetString(label + " (" + strconv.Itoa(rep.Categories[k]) + ")")
	}
	for m, mask := range rep.Masks {
		row := sheet.AddRow()
		row.AddCell().SetString(mask)
		for k := range rep.Categories {
			setFloat(row.AddCell(), value(m, k))
		}
	}
	return nil
}

func addStrings(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func setFloat(c *xlsx.Cell, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		c.SetString("")
		return
	}
	c.SetFloat(v)
}
