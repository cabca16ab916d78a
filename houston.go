package main

import (
	"github.com/houston-cloud/houston/cmd"
	"github.com/houston-cloud/houston/pkg/env"
	"github.com/houston-cloud/houston/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("houston failure", "error", err)
	}
}
