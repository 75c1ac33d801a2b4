package main

import "github.com/AR6420/macos-siri-2.0-sub002/cmd"

func main() {
	cmd.Execute()
}
