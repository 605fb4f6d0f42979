package main

import "github.com/classmesh/classmesh/cmd"

func main() {
	cmd.Execute()
}
