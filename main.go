package main

import "github.com/signalbridge/signal-bridge/cmd"

func main() {
	cmd.Execute()
}
