package main

import "github.com/specloom/loom/cmd"

func main() {
	cmd.Execute()
}
