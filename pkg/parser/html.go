package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/paulstuart/fwhistory/pkg/firmware"
	"github.com/paulstuart/fwhistory/pkg/model"
)

// dateLayouts are the date formats seen on history pages.
var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// HTMLParser reads odinrom style history pages: a table whose rows hold a
// release date cell and a firmware cell. A body that is a JSON array of
// {"date", "firmware"} objects is accepted as well.
type HTMLParser struct{}

// ParseHistory returns the table rows, or JSON entries, that carry a firmware
// string.
func (HTMLParser) ParseHistory(ctx context.Context, body string) ([]model.HistoryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "[") {
		return parseJSONHistory(trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var items []model.HistoryInfo
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		var (
			date *time.Time
			fw   string
		)
		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if date == nil {
				if d, ok := parseDate(text); ok {
					date = &d
					return
				}
			}
			if fw == "" && strings.Contains(text, "/") {
				fw = firmware.Normalize(text)
			}
		})
		if strings.TrimSpace(fw) == "" {
			return
		}
		items = append(items, model.HistoryInfo{Date: date, FirmwareString: fw})
	})

	return items, nil
}

type jsonHistoryEntry struct {
	Date     string `json:"date"`
	Firmware string `json:"firmware"`
}

func parseJSONHistory(body string) ([]model.HistoryInfo, error) {
	var entries []jsonHistoryEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	items := make([]model.HistoryInfo, 0, len(entries))
	for _, e := range entries {
		fw := firmware.Normalize(e.Firmware)
		if strings.TrimSpace(fw) == "" {
			continue
		}
		info := model.HistoryInfo{FirmwareString: fw}
		if d, ok := parseDate(e.Date); ok {
			info.Date = &d
		}
		items = append(items, info)
	}
	return items, nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
