// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package textutils normalizes user supplied text for matching.
package textutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LowerASCIIFolding removes accents, lowercases and trims spaces.
func LowerASCIIFolding(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// ContainsFolded reports whether needle occurs in any of the haystacks once both
// sides are folded. An empty needle matches everything.
func ContainsFolded(needle string, haystacks ...string) bool {
	needle = LowerASCIIFolding(needle)
	if needle == "" {
		return true
	}

	for _, h := range haystacks {
		if strings.Contains(LowerASCIIFolding(h), needle) {
			return true
		}
	}

	return false
}
