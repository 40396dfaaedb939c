package main

import "github.com/nullstream/eventstream/cmd"

func main() {
	cmd.Execute()
}
