// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks values that are interpolated into Flux queries.
//
// Anything spliced into query text must match one of these patterns first;
// callers never quote or escape on their own.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidTicker is returned for symbols outside tickerPattern.
	ErrInvalidTicker = errors.New("invalid ticker")

	// ErrInvalidRange is returned for malformed Flux relative durations.
	ErrInvalidRange = errors.New("invalid flux range")

	// ErrInvalidBucket is returned for bucket names that cannot be quoted safely.
	ErrInvalidBucket = errors.New("invalid bucket name")
)

var (
	tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)
	rangePattern  = regexp.MustCompile(`^[0-9]+(ns|us|ms|s|m|h|d|w|mo|y)$`)
	bucketPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]{0,63}$`)
)

// SanitizeTicker trims and upper-cases s and checks it is a ticker symbol:
// a letter followed by up to nine letters, digits, dots or hyphens.
func SanitizeTicker(s string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if !tickerPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}
	return normalized, nil
}

// IsTicker reports whether s is a ticker symbol after normalization.
func IsTicker(s string) bool {
	_, err := SanitizeTicker(s)
	return err == nil
}

// ValidateRange checks a Flux relative duration such as 30d or 12h.
func ValidateRange(s string) error {
	if !rangePattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	return nil
}

// ValidateBucket checks an InfluxDB bucket name.
func ValidateBucket(s string) error {
	if !bucketPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidBucket, s)
	}
	return nil
}
