package main

import "github.com/vietddude/crawlguard/internal/cli"

func main() {
	cli.Execute()
}
