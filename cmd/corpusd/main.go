// Package main is the corpusd entry point.
package main

import "github.com/vetcorpus/crawler/cmd"

func main() {
	cmd.Execute()
}
