package main

import "github.com/agentic-research/coursefs/cmd"

func main() {
	cmd.Execute()
}
