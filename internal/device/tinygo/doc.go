// Package tinyble implements device.Gateway on tinygo.org/x/bluetooth.
//
// The tinygo stack does not report characteristic properties, so every
// discovered characteristic carries empty Properties; callers select write
// and notify characteristics with explicit policies.
package tinyble
