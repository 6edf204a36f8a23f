package main

import "utility-balance-alerts/internal/cli"

func main() {
	cli.Execute()
}
