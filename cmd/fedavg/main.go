package main

import (
	"os"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
