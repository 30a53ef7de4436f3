package main

import "github.com/frahmantamala/fleet-billing/cmd"

func main() {
	cmd.Execute()
}
