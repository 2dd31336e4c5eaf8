//go:build tools

package main

// Pins the versions of tools invoked by go:generate and the lint target.
import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/stringer"
)
