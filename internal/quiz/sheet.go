package quiz

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Quiz"

var sheetHeaders = []string{
	"#", "Type", "Question", "Options", "Your Answer", "Correct Answer", "Result", "Explanation",
}

// WriteWorkbook writes the attempt as an .xlsx workbook: one row per question
// followed by the score line. Results are only filled in once answers are revealed.
func WriteWorkbook(w io.Writer, e *Engine) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, header := range sheetHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("write header %s: %w", cell, err)
		}
	}

	reviews := e.Review()
	for _, r := range reviews {
		row := []any{
			r.Index + 1,
			string(r.Question.Kind),
			r.Question.Prompt,
			strings.Join(r.Question.Options, " | "),
			r.Answer,
			r.Question.CorrectAnswer,
			string(r.Verdict),
			r.Question.Explanation,
		}
		for col, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+col, r.Index+2)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	score := e.Score()
	scoreRow := len(reviews) + 3
	if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", scoreRow), "Score"); err != nil {
		return fmt.Errorf("write score label: %w", err)
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("B%d", scoreRow), fmt.Sprintf("%d/%d (%.0f%%)", score.Correct, score.Total, score.Percentage)); err != nil {
		return fmt.Errorf("write score: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
