package main

import (
	_ "time/tzdata"

	"stage2-screener/internal/cli"
)

func main() {
	cli.Execute()
}
