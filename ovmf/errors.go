// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ovmf

import "errors"

var (
	// ErrMalformedTable is returned when the firmware's GUIDed tables or the structures they point
	// to do not fit in the firmware.
	ErrMalformedTable = errors.New("malformed OVMF table")

	// ErrFooterNotFound is returned when the firmware does not end with a GUIDed table footer.
	ErrFooterNotFound = errors.New("OVMF table footer not found")

	// ErrTooManyRegions is returned when the SEV metadata declares more than
	// MaxPrevalidatedRegions pre-validated memory regions.
	ErrTooManyRegions = errors.New("OVMF metadata defines too many memory regions")
)
