// Package types provides core types used across the agentgrid framework.
// This package has ZERO dependencies on other agentgrid packages to avoid
// circular imports. All other packages should import types from here.
package types
