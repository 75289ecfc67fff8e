package main

import "memepulse/internal/cli"

func main() {
	cli.Execute()
}
