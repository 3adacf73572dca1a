package main

import "sol-outflow-alerts/internal/cli"

func main() {
	cli.Execute()
}
