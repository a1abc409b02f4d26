package main

import (
	"github.com/gridpulse/gridpulse/cmd"
)

func main() {
	cmd.Execute()
}
