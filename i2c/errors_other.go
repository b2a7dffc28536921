//go:build !linux

package i2c

var platformErrnos []errnoSentinel
