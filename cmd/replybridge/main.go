package main

import "github.com/drblury/replybridge/internal/cli"

func main() {
	cli.Execute()
}
