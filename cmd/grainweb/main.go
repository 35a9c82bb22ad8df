package main

import "github.com/marmos91/grainweb/cmd/grainweb/cmd"

func main() {
	cmd.Execute()
}
