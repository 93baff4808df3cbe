// Package dataset reads demo and seed responses from spreadsheets.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SeedRow is one response to submit through the pipeline.
type SeedRow struct {
	Line           int
	ChildID        *int64
	ChildName      string
	Text           string
	Emoji          string
	ForceIntensity *float64
}

// Load reads the first sheet of an .xlsx file, detecting the child, text,
// intensity and emoji columns from the header row. Rows with neither a
// child reference nor text are skipped.
func Load(path string) ([]SeedRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}
	return parseRows(rows)
}

type columns struct {
	child, text, intensity, emoji int
}

func detectColumns(header []string) columns {
	cols := columns{child: -1, text: -1, intensity: -1, emoji: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "child") || strings.Contains(l, "niño") || strings.Contains(l, "nino"):
			if cols.child == -1 {
				cols.child = i
			}
		case strings.Contains(l, "intens") || strings.Contains(l, "force"):
			if cols.intensity == -1 {
				cols.intensity = i
			}
		case strings.Contains(l, "emoji"):
			cols.emoji = i
		case strings.Contains(l, "text") || strings.Contains(l, "texto") || strings.Contains(l, "response") || strings.Contains(l, "respuesta"):
			if cols.text == -1 {
				cols.text = i
			}
		}
	}
	// fallback to the documented column order: child, text, intensity
	if cols.child == -1 && cols.text == -1 && len(header) >= 2 {
		cols.child, cols.text = 0, 1
		if len(header) >= 3 {
			cols.intensity = 2
		}
	}
	return cols
}

func parseRows(rows [][]string) ([]SeedRow, error) {
	cols := detectColumns(rows[0])
	if cols.text == -1 {
		return nil, fmt.Errorf("no text column in header %q", rows[0])
	}

	cell := func(r []string, idx int) string {
		if idx < 0 || idx >= len(r) {
			return ""
		}
		return strings.TrimSpace(r[idx])
	}

	var out []SeedRow
	for i, r := range rows[1:] {
		row := SeedRow{
			Line:  i + 2,
			Text:  cell(r, cols.text),
			Emoji: cell(r, cols.emoji),
		}
		ref := cell(r, cols.child)
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
			row.ChildID = &id
		}
		row.ChildName = ref
		if raw := cell(r, cols.intensity); raw != "" {
			v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid intensity %q", row.Line, raw)
			}
			row.ForceIntensity = &v
		}
		if ref == "" && row.Text == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}
