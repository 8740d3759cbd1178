package main

import "github.com/vidtube/apiserver/cmd"

func main() {
	cmd.Execute()
}
