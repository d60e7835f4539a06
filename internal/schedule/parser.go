/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package schedule classifies raw roster cells into shift tokens.
//
// Parse is a total function: any string maps to exactly one token and never
// panics. Cells come straight from the department roster sheets, so the
// classifier is deliberately tolerant of surrounding whitespace and keeps the
// raw text on every token for diagnostics.
package schedule

import (
	"regexp"
	"strconv"
	"strings"
)

// ShiftKind is the closed classification set.
type ShiftKind int

const (
	// NoShift is an empty or whitespace-only cell.
	NoShift ShiftKind = iota
	// OffDay is any cell containing the leave marker (假).
	OffDay
	// NormalShift is a regular duty code.
	NormalShift
	// RShift is a rest-day duty, cell form "R/...".
	RShift
	// NationalHolidayRShift is a national-holiday rest-day duty, "R(國)/...".
	NationalHolidayRShift
)

// Token is the classification of one roster cell. A cell may carry an
// overtime suffix "(+N)" on top of a normal or R-type shift; Overtime is then
// non-zero alongside the base kind.
type Token struct {
	Kind ShiftKind
	// Suffix is the duty code after the "R/" or "R(國)/" prefix, or the raw
	// code for normal shifts.
	Suffix string
	// Overtime is the extra-hours component N in "(+N)", 0 when absent.
	Overtime int
	// Raw is the original cell text, trimmed.
	Raw string
}

// HasOvertime reports whether the cell carried an "(+N)" component.
func (t Token) HasOvertime() bool { return t.Overtime > 0 }

var (
	overtimeRe  = regexp.MustCompile(`\(\+([1-4])\)\s*$`)
	rHolidayRe  = regexp.MustCompile(`^R\(國\)/(.*)$`)
	rShiftRe    = regexp.MustCompile(`^R/(.*)$`)
	offMarker   = "(假)"
	fullWidthRe = strings.NewReplacer("（", "(", "）", ")", "＋", "+")
)

// Parse classifies one raw roster cell. Rules apply in order: leave marker,
// national-holiday R shift, R shift, overtime suffix (composes with the two R
// forms and with normal shifts), empty, normal.
func Parse(raw string) Token {
	cell := strings.TrimSpace(fullWidthRe.Replace(raw))
	tok := Token{Raw: cell}

	if cell == "" {
		tok.Kind = NoShift
		return tok
	}
	if strings.Contains(cell, offMarker) {
		tok.Kind = OffDay
		return tok
	}

	// Overtime is a suffix on whatever the base classification is.
	if m := overtimeRe.FindStringSubmatch(cell); m != nil {
		tok.Overtime, _ = strconv.Atoi(m[1])
		cell = strings.TrimSpace(overtimeRe.ReplaceAllString(cell, ""))
	}

	switch {
	case rHolidayRe.MatchString(cell):
		tok.Kind = NationalHolidayRShift
		tok.Suffix = rHolidayRe.FindStringSubmatch(cell)[1]
	case rShiftRe.MatchString(cell):
		tok.Kind = RShift
		tok.Suffix = rShiftRe.FindStringSubmatch(cell)[1]
	case cell == "":
		// Cell was only an overtime marker; treat as a normal shift with an
		// empty code rather than NoShift so the overtime still counts.
		tok.Kind = NormalShift
	default:
		tok.Kind = NormalShift
		tok.Suffix = cell
	}
	return tok
}

// IsLeave reports whether the cell counts against full-month attendance.
func (t Token) IsLeave() bool { return t.Kind == OffDay }
