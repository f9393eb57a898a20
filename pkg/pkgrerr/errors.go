// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pkgrerr defines the error kinds that the build orchestration
// engine reports, so callers can branch on kind with errors.As instead of
// string-matching messages.
package pkgrerr

import "fmt"

// Kind identifies which part of the pipeline produced an error.
type Kind string

const (
	KindConfig   Kind = "config"
	KindRecipe   Kind = "recipe"
	KindImage    Kind = "image"
	KindSource   Kind = "source"
	KindPatch    Kind = "patch"
	KindStep     Kind = "step"
	KindEmit     Kind = "emit"
	KindEngine   Kind = "engine"
	KindCancelled Kind = "cancelled"
)

// Error wraps an underlying cause with a Kind and a free-form message,
// preserving the chain via Unwrap so %w and errors.Is/As keep working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// RecipeParseError reports a failure to decode a recipe file.
func RecipeParseError(path string, cause error) *Error {
	return New(KindRecipe, fmt.Sprintf("failed to parse recipe at %q", path), cause)
}

// DuplicateRecipeError reports two recipes sharing the same name.
func DuplicateRecipeError(name string) *Error {
	return New(KindRecipe, fmt.Sprintf("duplicate recipe %q", name), nil)
}

// InheritanceCycleError reports a cycle in the `from` parent chain.
func InheritanceCycleError(chain []string) *Error {
	return New(KindRecipe, fmt.Sprintf("inheritance cycle detected: %v", chain), nil)
}

// UnknownPackageManagerError reports an image with no resolvable dependency installer.
func UnknownPackageManagerError(image string) *Error {
	return New(KindImage, fmt.Sprintf("no package manager known for image %q", image), nil)
}

// PatchFailedError reports a patch that failed to apply for an image.
func PatchFailedError(patch, image string, cause error) *Error {
	return New(KindPatch, fmt.Sprintf("patch %q failed to apply for image %q", patch, image), cause)
}

// StepFailedError reports a non-zero exit from a script step.
type StepFailedError struct {
	Phase string
	Index int
	Cause error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step: phase %q step %d failed: %v", e.Phase, e.Index, e.Cause)
}

func (e *StepFailedError) Unwrap() error { return e.Cause }

// Cancelled reports cooperative termination; always considered clean.
var Cancelled = New(KindCancelled, "operation cancelled", nil)
