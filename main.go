package main

import "github.com/kozaktomas/photo-stacker/cmd"

func main() {
	cmd.Execute()
}
