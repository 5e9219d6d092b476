// Command weird manages the profiles and usernames of a weird instance.
package main

import "github.com/mesh-intelligence/weird/internal/cli"

func main() {
	cli.Execute()
}
