package main

import "github.com/gliderlab/wagem/cmd/wagem/commands"

func main() {
	commands.Execute()
}
