package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/tablegrab/models"
)

// Extract reads the table under rowSelector from a loaded page. Each cell is
// its rendered text with surrounding whitespace removed. No rows is an empty
// table, not an error.
func Extract(ctx context.Context, page Page, rowSelector, cellSelector string, timeout time.Duration) (models.ExtractedTable, error) {
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := page.QueryTable(evalCtx, rowSelector, cellSelector)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeExtraction, "failed to read table cells", timeout)
	}

	table := make(models.ExtractedTable, 0, len(raw))
	for _, cells := range raw {
		row := make(models.TableRow, len(cells))
		for i, cell := range cells {
			row[i] = strings.TrimSpace(cell)
		}
		table = append(table, row)
	}
	return table, nil
}

// ExtractHTML applies the same row and cell walk to a saved document. Cell
// values are text content rather than rendered text, so content hidden with
// CSS is included.
func ExtractHTML(rawHTML, rowSelector, cellSelector string) (models.ExtractedTable, error) {
	// goquery silently matches nothing for a broken selector.
	for _, sel := range []string{rowSelector, cellSelector} {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInvalidConfig, fmt.Sprintf("invalid selector %q", sel), err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, "failed to parse HTML", err)
	}

	table := models.ExtractedTable{}
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(cellSelector)
		tr := make(models.TableRow, 0, cells.Length())
		cells.Each(func(_ int, cell *goquery.Selection) {
			tr = append(tr, strings.TrimSpace(cell.Text()))
		})
		table = append(table, tr)
	})
	return table, nil
}
