package anchor

import (
	"math/big"
	"time"
)

// Gwei converts a gwei count to wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

// networkPriorityFloor is the minimum priority fee a network enforces.
// Polygon Amoy rejects transactions tipping under 25 gwei.
func networkPriorityFloor(network string) *big.Int {
	switch network {
	case "amoy", "polygon-amoy":
		return Gwei(25)
	case "polygon":
		return Gwei(30)
	default:
		return Gwei(1)
	}
}

// FeeCaps derives the EIP-1559 fee pair from the suggested tip and the head
// base fee:
//
//	priority = max(suggestedTip, networkFloor, configuredFloor)
//	maxFee   = max(2*baseFee + priority, 2*priority, configuredMaxFloor)
func FeeCaps(suggestedTip, baseFee *big.Int, network string, minPriority, minMax *big.Int) (priority, maxFee *big.Int) {
	priority = new(big.Int)
	if suggestedTip != nil {
		priority.Set(suggestedTip)
	}
	floor := networkPriorityFloor(network)
	if minPriority != nil && minPriority.Cmp(floor) > 0 {
		floor = minPriority
	}
	if priority.Cmp(floor) < 0 {
		priority.Set(floor)
	}

	maxFee = new(big.Int)
	if baseFee != nil {
		maxFee.Mul(baseFee, big.NewInt(2))
	}
	maxFee.Add(maxFee, priority)
	doubleTip := new(big.Int).Mul(priority, big.NewInt(2))
	if maxFee.Cmp(doubleTip) < 0 {
		maxFee.Set(doubleTip)
	}
	if minMax != nil && maxFee.Cmp(minMax) < 0 {
		maxFee.Set(minMax)
	}
	return priority, maxFee
}

// ExplorerTxURL maps a network to its block explorer transaction URL, or ""
// for unknown networks.
func ExplorerTxURL(network, txHash string) string {
	base := ""
	switch network {
	case "amoy", "polygon-amoy":
		base = "https://amoy.polygonscan.com/tx/"
	case "polygon":
		base = "https://polygonscan.com/tx/"
	case "sepolia":
		base = "https://sepolia.etherscan.io/tx/"
	case "mainnet", "ethereum":
		base = "https://etherscan.io/tx/"
	}
	if base == "" {
		return ""
	}
	return base + txHash
}

// clockTick paces confirmation polling.
func clockTick() <-chan time.Time {
	return time.After(2 * time.Second)
}
