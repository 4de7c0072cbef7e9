//go:build tools

// Package tools keeps the oapi-codegen generator version in go.mod. The
// apiv1 handlers bind path parameters with its runtime package, so both
// stay on the same release.
package tools

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
)
