package main

import "github.com/webstriiix/calculator-cli/build-tools/cmd"

func main() {
	cmd.Execute()
}
