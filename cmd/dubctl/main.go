package main

import "dubber/internal/cli"

func main() {
	cli.Main()
}
