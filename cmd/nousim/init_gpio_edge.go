//go:build edge

package main

import (
	"fmt"

	"periph.io/x/host/v3"
)

// initHostGPIO loads periph.io's host drivers so board pins appear in gpioreg.
func initHostGPIO() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	return nil
}
