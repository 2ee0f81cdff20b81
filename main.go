package main

import "lusl/cmd"

func main() {
	cmd.Execute()
}
