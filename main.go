package main

import (
	"wavedeck/cmd"
)

func main() {
	cmd.Execute()
}
