package main

import "github.com/deploymenttheory/go-btag/cmd"

func main() {
	cmd.Execute()
}
