package main

import "github.com/CApy-RPI/mvp/cmd"

func main() {
	cmd.Execute()
}
