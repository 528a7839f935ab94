// Package signal extracts structured buy signals from free-text alerts.
package signal

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Signal is one parsed buy alert. Immutable for the lifetime of a pipeline
// run and discarded afterwards.
type Signal struct {
	CompanyName string
	Low         decimal.Decimal
	High        decimal.Decimal
	StopLoss    decimal.Decimal
	RawText     string
}

// Parser turns raw alert text into a Signal. The boolean is false when the
// text carries no parseable signal, which is a routine outcome rather than
// an error. Implementations are swappable so extraction can evolve without
// touching the pipeline.
type Parser interface {
	Parse(text string) (Signal, bool)
}

// RegexParser is the production extraction strategy. It scans for a
// buy-intent marker, then an instrument-name fragment, a low-high price
// range, and a trailing stop-loss figure. Matching is case-insensitive and
// spans line breaks. The name fragment is captured narrowly (it stops at
// the first digit run) which keeps extraneous text out at the cost of
// occasionally clipping unusual names.
type RegexParser struct {
	re *regexp.Regexp
}

var signalRe = regexp.MustCompile(
	`(?is)\b(?:buying|buy\s+range|buy\s+now|buy)\b[\s:@-]*` +
		`([A-Za-z][A-Za-z0-9 .&'-]*?)\s*` +
		`(\d+(?:\.\d+)?)\s*[-–—:]\s*(\d+(?:\.\d+)?)` +
		`.*?(?:stop\s*loss|\bsl\b)\s*[:\-]?\s*(\d+(?:\.\d+)?)`)

func NewRegexParser() *RegexParser {
	return &RegexParser{re: signalRe}
}

func (p *RegexParser) Parse(text string) (Signal, bool) {
	m := p.re.FindStringSubmatch(text)
	if m == nil {
		return Signal{}, false
	}

	name := strings.TrimSpace(m[1])
	if name == "" {
		return Signal{}, false
	}

	low, err := decimal.NewFromString(m[2])
	if err != nil {
		return Signal{}, false
	}
	high, err := decimal.NewFromString(m[3])
	if err != nil {
		return Signal{}, false
	}
	stop, err := decimal.NewFromString(m[4])
	if err != nil {
		return Signal{}, false
	}

	// A range with low above high is a malformed alert, not one to repair
	// by swapping endpoints.
	if low.GreaterThan(high) {
		return Signal{}, false
	}
	if !low.IsPositive() || !stop.IsPositive() {
		return Signal{}, false
	}

	return Signal{
		CompanyName: name,
		Low:         low,
		High:        high,
		StopLoss:    stop,
		RawText:     text,
	}, true
}
