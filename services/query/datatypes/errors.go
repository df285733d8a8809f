// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "fmt"

// InvalidModeError is returned when a request carries a search mode outside
// the closed SearchMode set. Handlers map it to HTTP 400.
type InvalidModeError struct {
	Mode string
}

// Error implements the error interface for InvalidModeError.
func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid search mode %q: must be one of semantic, text, hybrid", e.Mode)
}

// IsInvalidMode checks if an error is an *InvalidModeError.
func IsInvalidMode(err error) bool {
	_, ok := err.(*InvalidModeError)
	return ok
}
