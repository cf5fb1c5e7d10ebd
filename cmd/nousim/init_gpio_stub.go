//go:build !edge

package main

import "errors"

// initHostGPIO fails in non-edge builds; there are no host drivers to load.
func initHostGPIO() error {
	return errors.New("host gpio drivers not compiled in; build with -tags edge")
}
