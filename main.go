package main

import "github.com/andresmejia3/passport/cmd"

func main() {
	cmd.Execute()
}
