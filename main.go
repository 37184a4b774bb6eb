package main

import "github.com/killallgit/relay/cmd"

func main() {
	cmd.Execute()
}
