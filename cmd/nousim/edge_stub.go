//go:build !edge

package main

const edgeBuild = false
