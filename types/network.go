package types

import "math/big"

// Network describes the EVM chain payments are accepted on.
type Network struct {
	Name        string
	ChainID     int64
	RPCURL      string
	Currency    string
	Decimals    int32
	ExplorerURL string
}

// CronosTestnet is the chain the service targets out of the box.
var CronosTestnet = Network{
	Name:        "Cronos EVM Testnet",
	ChainID:     338,
	RPCURL:      "https://evm-t3.cronos.org",
	Currency:    "TCRO",
	Decimals:    18,
	ExplorerURL: "https://explorer.cronos.org/testnet",
}

// ChainIDBig returns the chain id as a big.Int for signer construction.
func (n Network) ChainIDBig() *big.Int {
	return big.NewInt(n.ChainID)
}

// TxURL links a transaction on the block explorer, or "" without one.
func (n Network) TxURL(hash TxRef) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return n.ExplorerURL + "/tx/" + hash.String()
}
