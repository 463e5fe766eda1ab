package main

import "github.com/audiolibrelab/fieldcapture/cmd"

func main() {
	cmd.Execute()
}
