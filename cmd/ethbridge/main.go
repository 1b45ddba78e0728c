package main

import "github.com/vietddude/ethbridge/internal/cli"

func main() {
	cli.Execute()
}
