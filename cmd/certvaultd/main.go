// Command certvaultd serves the certificate API.
//
// On first run it writes a configuration file with a fresh encryption key
// and issuer identity into the data directory.
package main

import "github.com/bitfsorg/certvault-go/cmd/certvaultd/internal/cmd"

func main() {
	cmd.Execute()
}
