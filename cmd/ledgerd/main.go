// Command ledgerd serves a bbolt-backed certificate ledger over JSON-RPC.
// It is a development node for certvaultd's rpc ledger backend.
package main

import "github.com/bitfsorg/certvault-go/cmd/ledgerd/internal/cmd"

func main() {
	cmd.Execute()
}
