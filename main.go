package main

import "github.com/daiguadaidai/go-pg-ninja/cmd"

func main() {
	cmd.Execute()
}
