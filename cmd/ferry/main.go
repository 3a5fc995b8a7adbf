package main

import "github.com/opencurate/ferry/internal/cmd"

func main() {
	cmd.Execute()
}
