package main

import "github.com/ferreirogomes/tiquin-streams/cmd"

func main() {
	cmd.Execute()
}
