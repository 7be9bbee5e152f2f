package main

import "github.com/questline/progression/cmd"

func main() {
	cmd.Execute()
}
