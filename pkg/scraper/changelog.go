package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/paulstuart/fwhistory/pkg/config"
	mdl "github.com/paulstuart/fwhistory/pkg/model"
)

// ErrNoChangelog is returned when the changelog site has no notes for a device.
var ErrNoChangelog = errors.New("no changelog published")

// Header lines look like "Build Number : G991BXXU5CVF3".
var changelogFieldRe = regexp.MustCompile(`(?i)^\s*(build\s*number|android\s*version|release\s*date|security\s*patch\s*level)\s*:\s*(.*?)\s*$`)

// GetChangelogs fetches the release notes for a device and indexes them by
// build number. The doc page only links to per-language pages, so this is two
// requests: the doc page, then its English page.
func (c *Client) GetChangelogs(ctx context.Context, model, region string) (*mdl.ChangelogIndex, error) {
	if c.endpoints.Changelog == "" {
		return nil, ErrNoChangelog
	}
	docURL, err := config.Expand(c.endpoints.Changelog, model, region)
	if err != nil {
		return nil, fmt.Errorf("failed to build changelog URL: %w", err)
	}

	pageURL, err := c.changelogPageURL(ctx, docURL)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Changelog page for %s/%s: %s", model, region, pageURL)

	changelogs, err := c.scrapeChangelogs(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Found %d changelogs for %s/%s", len(changelogs), model, region)

	return &mdl.ChangelogIndex{
		Model:      model,
		Region:     region,
		Changelogs: changelogs,
	}, nil
}

// changelogPageURL reads the English page link from the hidden language
// selector on the doc page.
func (c *Client) changelogPageURL(ctx context.Context, docURL string) (string, error) {
	col, err := c.collector(ctx, docURL)
	if err != nil {
		return "", err
	}

	var pageURL string
	col.OnHTML("#sel_lang_hidden option", func(e *colly.HTMLElement) {
		if pageURL != "" || !strings.EqualFold(e.Attr("value"), "EN") {
			return
		}
		pageURL = e.Request.AbsoluteURL(strings.TrimSpace(e.Text))
	})

	if err := col.Visit(docURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to visit changelog doc page: %w", err)
	}
	col.Wait()

	if pageURL == "" {
		return "", ErrNoChangelog
	}
	return pageURL, nil
}

func (c *Client) scrapeChangelogs(ctx context.Context, pageURL string) (map[string]mdl.Changelog, error) {
	col, err := c.collector(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	// The English page may live on another host than the doc page.
	col.AllowedDomains = nil

	var changelogs map[string]mdl.Changelog
	col.OnHTML("body", func(e *colly.HTMLElement) {
		changelogs = parseChangelogs(e.DOM)
	})

	if err := col.Visit(pageURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to visit changelog page: %w", err)
	}
	col.Wait()

	if len(changelogs) == 0 {
		return nil, ErrNoChangelog
	}
	return changelogs, nil
}

// parseChangelogs walks the ".container .row" blocks of a changelog page. A
// block with a build number starts an entry; a block without one holds the
// notes of the entry before it.
func parseChangelogs(body *goquery.Selection) map[string]mdl.Changelog {
	changelogs := make(map[string]mdl.Changelog)
	var current *mdl.Changelog

	flush := func() {
		if current != nil && current.Firmware != "" {
			current.Notes = strings.TrimSpace(current.Notes)
			changelogs[current.Firmware] = *current
		}
	}

	body.Find(".container .row").Each(func(_ int, row *goquery.Selection) {
		var (
			entry mdl.Changelog
			keyed bool
			notes []string
		)

		lines := row.Find("p, li")
		if lines.Length() == 0 {
			lines = row
		}
		lines.Each(func(_ int, line *goquery.Selection) {
			text := strings.TrimSpace(line.Text())
			if text == "" {
				return
			}
			m := changelogFieldRe.FindStringSubmatch(text)
			if m == nil {
				notes = append(notes, text)
				return
			}
			keyed = true
			switch strings.Join(strings.Fields(strings.ToLower(m[1])), " ") {
			case "build number":
				entry.Firmware = m[2]
			case "android version":
				entry.AndroidVersion = m[2]
			case "release date":
				entry.ReleaseDate = m[2]
			case "security patch level":
				entry.SecurityPatch = m[2]
			}
		})

		if keyed && entry.Firmware != "" {
			flush()
			entry.Notes = strings.Join(notes, "\n")
			current = &entry
			return
		}
		if current != nil && len(notes) > 0 {
			if current.Notes != "" {
				current.Notes += "\n"
			}
			current.Notes += strings.Join(notes, "\n")
		}
	})
	flush()

	return changelogs
}
