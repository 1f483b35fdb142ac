package main

import (
	"github.com/outofforest/ukigen/cmd/ukigen/cmd"
)

func main() {
	cmd.Execute()
}
