package main

import "github.com/tanq16/imgrab/cmd"

func main() {
	cmd.Execute()
}
