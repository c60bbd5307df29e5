package main

import "github.com/lhartmann/kedis/cmd"

func main() {
	cmd.Execute()
}
