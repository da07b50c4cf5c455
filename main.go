// The main package for the iffse executable.
package main

import "github.com/2php/iffse/cmd"

func main() {
	cmd.Execute()
}
