package main

import (
	"molend-points/internal/cli"
)

func main() {
	cli.Execute()
}
