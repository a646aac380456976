package main

import "github.com/reloquent/evolve/cmd"

func main() {
	cmd.Execute()
}
