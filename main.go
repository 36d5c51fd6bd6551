package main

import "github.com/dixelmedia/wabridge/cmd"

func main() {
	cmd.Execute()
}
