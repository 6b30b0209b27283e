// admitctl -- CLI client for the admitd admin API.
package main

import "github.com/opnet-io/admitd/cmd/admitctl/commands"

func main() {
	commands.Execute()
}
