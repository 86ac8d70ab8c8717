//go:build tools

// Package tools tracks code generators invoked through go generate, such as
// mockgen, so their versions stay pinned in go.mod.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
