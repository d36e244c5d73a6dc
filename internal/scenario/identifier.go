/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package scenario holds the in-memory form of an authored scenario: parsed
// scene identifiers, scene records, game metadata and the CSV loader that
// produces rows from a scenario file.
package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedIdentifier is returned when a scene id does not follow the
// identifier grammar.
var ErrMalformedIdentifier = errors.New("malformed scene identifier")

// Kind classifies a scene identifier. The numeric order of the kinds is the
// order in which they appear inside a chapter.
type Kind int

const (
	KindTitle Kind = iota + 1
	KindNumbered
	KindChoice
	KindRoute
	KindEnding
)

func (k Kind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindNumbered:
		return "numbered"
	case KindChoice:
		return "choice"
	case KindRoute:
		return "route"
	case KindEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Identifier is a parsed scene id.
//
//	N-T    title of chapter N
//	N-k    numbered scene k
//	N-Q    choice point
//	N-R-k  segment k of route R
//	N-E    chapter ending
//	N-R-E  ending of route R
//
// Route is set for route segments and route endings only; Index for numbered
// scenes and route segments only. Identifiers are comparable with ==.
type Identifier struct {
	Chapter int
	Kind    Kind
	Route   string
	Index   int
}

// IdentifierError names the part of a scene id that failed to parse. It
// unwraps to ErrMalformedIdentifier.
type IdentifierError struct {
	Raw    string
	Reason string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedIdentifier, e.Raw, e.Reason)
}

func (e *IdentifierError) Unwrap() error { return ErrMalformedIdentifier }

// ParseIdentifier parses a scene id. Surrounding whitespace is ignored.
// Failures are *IdentifierError.
func ParseIdentifier(raw string) (Identifier, error) {
	s := strings.TrimSpace(raw)
	bad := func(format string, args ...any) (Identifier, error) {
		return Identifier{}, &IdentifierError{Raw: raw, Reason: fmt.Sprintf(format, args...)}
	}
	parts := strings.Split(s, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return bad("want 2 or 3 dash-separated parts, got %d", len(parts))
	}
	ch, ok := positiveInt(parts[0])
	if !ok {
		return bad("chapter %q is not a positive number", parts[0])
	}
	id := Identifier{Chapter: ch}
	if len(parts) == 2 {
		switch parts[1] {
		case "T":
			id.Kind = KindTitle
		case "Q":
			id.Kind = KindChoice
		case "E":
			id.Kind = KindEnding
		default:
			k, ok := positiveInt(parts[1])
			if !ok {
				return bad("scene %q is not T, Q, E or a positive number", parts[1])
			}
			id.Kind, id.Index = KindNumbered, k
		}
		return id, nil
	}
	if !IsRouteLetter(parts[1]) {
		return bad("route %q is not a single uppercase letter", parts[1])
	}
	id.Route = parts[1]
	if parts[2] == "E" {
		id.Kind = KindEnding
		return id, nil
	}
	k, ok := positiveInt(parts[2])
	if !ok {
		return bad("route scene %q is not E or a positive number", parts[2])
	}
	id.Kind, id.Index = KindRoute, k
	return id, nil
}

// MustParseIdentifier is like ParseIdentifier but panics on error. Intended
// for tests and literals.
func MustParseIdentifier(raw string) Identifier {
	id, err := ParseIdentifier(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// IsRouteLetter reports whether s is a single uppercase ASCII letter.
func IsRouteLetter(s string) bool {
	return len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z'
}

// positiveInt accepts decimal digits without sign or leading zeros.
func positiveInt(s string) (int, bool) {
	if s == "" || s[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsZero reports whether id is the zero Identifier.
func (id Identifier) IsZero() bool { return id == Identifier{} }

// String renders the canonical scene id.
func (id Identifier) String() string {
	ch := strconv.Itoa(id.Chapter)
	switch id.Kind {
	case KindTitle:
		return ch + "-T"
	case KindNumbered:
		return ch + "-" + strconv.Itoa(id.Index)
	case KindChoice:
		return ch + "-Q"
	case KindRoute:
		return ch + "-" + id.Route + "-" + strconv.Itoa(id.Index)
	case KindEnding:
		if id.Route != "" {
			return ch + "-" + id.Route + "-E"
		}
		return ch + "-E"
	default:
		return ""
	}
}

// Compare orders identifiers by chapter, then kind (title, numbered, choice,
// route segments, endings), then route letter, then index. It returns -1, 0
// or +1.
func (id Identifier) Compare(o Identifier) int {
	switch {
	case id.Chapter != o.Chapter:
		return cmpInt(id.Chapter, o.Chapter)
	case id.Kind != o.Kind:
		return cmpInt(int(id.Kind), int(o.Kind))
	case id.Route != o.Route:
		return strings.Compare(id.Route, o.Route)
	default:
		return cmpInt(id.Index, o.Index)
	}
}

// Less reports whether id sorts before o.
func (id Identifier) Less(o Identifier) bool { return id.Compare(o) < 0 }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MarshalText encodes the identifier as its scene id.
func (id Identifier) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

// UnmarshalText parses a scene id. An empty input yields the zero Identifier.
func (id *Identifier) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = Identifier{}
		return nil
	}
	v, err := ParseIdentifier(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
