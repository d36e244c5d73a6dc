/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package story

import (
	"errors"
	"fmt"
	"strings"
)

// Build errors. They describe authoring mistakes in the scenario and are
// reported before any playback starts.
var (
	ErrDuplicateIdentifier = errors.New("duplicate scene identifier")
	ErrEmptyChapter        = errors.New("empty chapter")
	ErrMalformedChoiceBody = errors.New("malformed choice body")
	ErrOrphanRoute         = errors.New("orphan route")
)

// Navigation errors. They indicate a call that does not fit the current
// scene and are not retryable.
var (
	ErrChoiceRequired   = errors.New("choice required")
	ErrInvalidChoice    = errors.New("invalid choice")
	ErrUnexpectedChoice = errors.New("unexpected choice")
	ErrUnknownScene     = errors.New("unknown scene")
)

// BuildError locates a build failure in the scenario source.
type BuildError struct {
	Err     error  // one of the Err* sentinels, or scenario.ErrMalformedIdentifier
	SceneID string // offending scene id, if any
	Line    int    // source line, 0 when unknown
	Detail  string
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.SceneID != "" {
		fmt.Fprintf(&b, " %q", e.SceneID)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }
