//go:build !ballast_failfast

package memory

const failFast = false
