package main

import "spy-nav-tracker/internal/cli"

func main() {
	cli.Execute()
}
