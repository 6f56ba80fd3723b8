package main

import (
	"os"

	"github.com/openlend/loan-matcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
