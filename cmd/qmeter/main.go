package main

import "github.com/ogulcanaydogan/qmeter/internal/cli"

func main() {
	cli.Execute()
}
