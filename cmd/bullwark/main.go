package main

import "github.com/aussiebroadwan/bullwark/cmd/bullwark/cmd"

func main() {
	cmd.Execute()
}
