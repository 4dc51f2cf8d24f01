package main

import "github.com/agentrelay/agentrelay/cmd/agentrelay/cmd"

func main() {
	cmd.Execute()
}
