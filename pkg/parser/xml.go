package parser

import (
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/paulstuart/fwhistory/pkg/firmware"
	"github.com/paulstuart/fwhistory/pkg/model"
)

// ParseXML parses a FOTA version.xml document.
//
// The <latest> entry comes first and carries the Android version from its "o"
// attribute. The <upgrade><value> entries follow, sorted descending by the last
// four characters of the normalized firmware string. Entries whose firmware
// string is blank are dropped. Missing nodes are skipped, mismatched tags are
// tolerated and a truncated document yields no entries; only a document that
// cannot be read at all is an error.
func ParseXML(body string) ([]model.HistoryInfo, error) {
	doc, err := xmlquery.ParseWithOptions(strings.NewReader(body), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{Strict: false},
	})
	if err != nil {
		var syntaxErr *xml.SyntaxError
		if errors.As(err, &syntaxErr) {
			logger.Debugf("Unreadable version.xml, treating as empty: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	version := descendant(descendant(doc, "firmware"), "version")
	latest := descendant(version, "latest")
	upgrade := descendant(version, "upgrade")

	var items []model.HistoryInfo

	if latest != nil {
		if fw := firmware.Normalize(latest.InnerText()); strings.TrimSpace(fw) != "" {
			items = append(items, model.HistoryInfo{
				AndroidVersion: latest.SelectAttr("o"),
				FirmwareString: fw,
			})
		}
	}

	if upgrade != nil {
		var historical []model.HistoryInfo
		for _, value := range xmlquery.Find(upgrade, "value") {
			fw := firmware.Normalize(value.InnerText())
			if strings.TrimSpace(fw) == "" {
				continue
			}
			historical = append(historical, model.HistoryInfo{FirmwareString: fw})
		}

		// Lexicographic on the trailing build code, newest first.
		slices.SortStableFunc(historical, func(a, b model.HistoryInfo) int {
			return -cmp.Compare(firmware.SortKey(a.FirmwareString), firmware.SortKey(b.FirmwareString))
		})
		items = append(items, historical...)
	}

	return items, nil
}

// descendant returns the first element below n with the given name.
func descendant(n *xmlquery.Node, name string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return xmlquery.FindOne(n, ".//"+name)
}
