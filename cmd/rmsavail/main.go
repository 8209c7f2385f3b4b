package main

import "github.com/example/rms-availability/cmd"

func main() {
	cmd.Execute()
}
