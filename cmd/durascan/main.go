package main

import "github.com/lamnq/durascan/internal/cli"

func main() {
	cli.Execute()
}
