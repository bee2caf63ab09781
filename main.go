package main

import "github.com/smazurov/taskmaster/cmd"

func main() {
	cmd.Execute()
}
