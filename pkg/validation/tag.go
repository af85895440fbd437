// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries, file paths, or subprocess calls. Using these validators
// prevents injection attacks (Flux injection, command injection, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// tagPattern matches valid cost tag values: provider names, service names,
// and account identifiers as emitted by cloud billing exports.
// Allows: lowercase letters, digits, dots, hyphens, underscores, slashes
// (e.g. "aws", "compute.googleapis.com", "AmazonEC2", "my-project/dev").
// Max length: 64 characters.
var tagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-]{0,63}$`)

// ValidateTag validates a provider/service/account tag value to prevent
// Flux injection.
//
// Valid tags:
//   - 1-64 characters
//   - Letters and digits
//   - Dots (.) for service domains like compute.googleapis.com
//   - Hyphens, underscores, and slashes for account paths
//
// Returns an error if the tag is invalid.
//
// Example:
//
//	if err := validation.ValidateTag(filter.Provider); err != nil {
//	    return nil, fmt.Errorf("invalid provider: %w", err)
//	}
//	// Safe to use in Flux query
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}

	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("invalid tag format: %q (must be 1-64 alphanumeric chars, dots, hyphens, underscores, or slashes)", tag)
	}

	return nil
}

// ValidateTags validates multiple tag values.
// Returns an error listing all invalid tags if any fail validation.
func ValidateTags(tags []string) error {
	var invalid []string
	for _, t := range tags {
		if err := ValidateTag(t); err != nil {
			invalid = append(invalid, t)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid tags: %v", invalid)
	}
	return nil
}

// SanitizeTag normalizes and validates a tag value.
// Returns the trimmed tag if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeProvider, err := validation.SanitizeTag(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeTag(tag string) (string, error) {
	normalized := strings.TrimSpace(tag)
	if err := ValidateTag(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
