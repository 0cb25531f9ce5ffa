// Package parser turns raw firmware history payloads into ordered history
// entries.
package parser

import (
	"context"
	"errors"

	"github.com/paulstuart/fwhistory/pkg/model"
)

// ErrMalformed is wrapped by errors for payloads that cannot be read at all.
var ErrMalformed = errors.New("malformed history payload")

// HistoryBodyParser parses the primary source's page. Entries are returned in
// the order the page lists them, with Date set when the page has one.
type HistoryBodyParser interface {
	ParseHistory(ctx context.Context, body string) ([]model.HistoryInfo, error)
}

// Source identifies which upstream produced a payload.
type Source string

const (
	SourceNone      Source = ""
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
)

// OutcomeKind classifies the result of parsing.
type OutcomeKind int

const (
	// Empty means neither source returned a payload.
	Empty OutcomeKind = iota
	// ParseError means a payload arrived but could not be parsed.
	ParseError
	// Success means Items holds the parsed history.
	Success
)

// String returns a lowercase name for the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case Empty:
		return "empty"
	case ParseError:
		return "parse error"
	case Success:
		return "success"
	default:
		return "unknown"
	}
}

// Outcome is the result of Parse.
type Outcome struct {
	Kind   OutcomeKind
	Source Source
	Items  []model.HistoryInfo
	Err    error
}

// Parse picks a parser by which payload is present. The primary payload wins
// when both are present; an empty string means the source had nothing.
func Parse(ctx context.Context, primary, secondary string, body HistoryBodyParser) Outcome {
	var (
		items  []model.HistoryInfo
		err    error
		source Source
	)

	switch {
	case primary != "":
		source = SourcePrimary
		items, err = body.ParseHistory(ctx, primary)
	case secondary != "":
		source = SourceSecondary
		items, err = ParseXML(secondary)
	default:
		return Outcome{Kind: Empty}
	}

	if err != nil {
		return Outcome{Kind: ParseError, Source: source, Err: err}
	}
	return Outcome{Kind: Success, Source: source, Items: items}
}
