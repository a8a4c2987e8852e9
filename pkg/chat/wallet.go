package chat

const WalletStatusConnected = "connected"

// WalletInfo mirrors GET /api/wallet. Only the literal status "connected"
// counts as a connected wallet.
type WalletInfo struct {
	Address   *string `json:"address" yaml:"address"`
	NetworkID *string `json:"network_id" yaml:"network_id"`
	Status    string  `json:"status" yaml:"status"`
}

func (w WalletInfo) IsConnected() bool {
	return w.Status == WalletStatusConnected
}

// DisconnectedWallet is shown whenever the wallet endpoint cannot be reached.
func DisconnectedWallet() WalletInfo {
	return WalletInfo{Status: "disconnected"}
}

// ToolInfo mirrors one entry of GET /api/tools.
type ToolInfo struct {
	Name        string  `json:"name" yaml:"name"`
	Description *string `json:"description" yaml:"description"`
}
