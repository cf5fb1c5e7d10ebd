//go:build edge

package main

// edgeBuild is true when the binary is built with the `edge` tag, which
// links periph.io's host drivers for the GPIO mirror.
const edgeBuild = true
