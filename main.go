package main

import "github.com/jmehdipour/imagegen-gateway/cmd"

func main() {
	cmd.Execute()
}
