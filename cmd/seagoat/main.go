package main

import "seagoat/internal/cli"

func main() {
	cli.Execute()
}
