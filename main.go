package main

import "zoneplane/internal/cli"

func main() {
	cli.Execute()
}
