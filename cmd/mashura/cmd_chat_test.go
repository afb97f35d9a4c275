// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRenderFinal_ReprintsRevisedAnswer verifies the corrected final text is
// shown interactively whenever it differs from what streamed.
func TestRenderFinal_ReprintsRevisedAnswer(t *testing.T) {
	streamed := `وفقاً لـ"مذكرة تفسيرية"`
	final := `وفقاً لـ"نظام العمل"`

	var out strings.Builder
	renderFinal(&out, streamed, final, true)

	assert.Contains(t, out.String(), final, "revised answer must reach the user")
	assert.Contains(t, out.String(), "---")
}

// TestRenderFinal_NoReprintWhenUnchanged verifies an unrevised answer is not
// duplicated after its chunks already printed.
func TestRenderFinal_NoReprintWhenUnchanged(t *testing.T) {
	answer := "العقد شريعة المتعاقدين"

	var out strings.Builder
	renderFinal(&out, answer, answer, true)

	assert.Equal(t, "\n", out.String())
}

// TestRenderFinal_NonInteractivePrintsFinalOnly verifies piped output gets
// exactly the final text.
func TestRenderFinal_NonInteractivePrintsFinalOnly(t *testing.T) {
	var out strings.Builder
	renderFinal(&out, "", "الإجابة", false)

	assert.Equal(t, "الإجابة\n", out.String())
}
