package main

import (
	"github.com/inference-sim/netsim/cmd"
)

func main() {
	cmd.Execute()
}
