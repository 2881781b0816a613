package main

import "github.com/majordomo-bot/majordomo/cmd"

func main() {
	cmd.Execute()
}
