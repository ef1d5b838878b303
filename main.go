package main

import "github.com/eduia/tutor/cmd"

func main() {
	cmd.Execute()
}
