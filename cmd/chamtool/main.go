package main

import "github.com/OpenTraceLab/OpenTraceCham/cmd/chamtool/cmd"

func main() {
	cmd.Execute()
}
