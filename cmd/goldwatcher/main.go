package main

import "gold-alert-engine/internal/cli"

func main() {
	cli.Execute()
}
