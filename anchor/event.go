package anchor

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"justifai.co/issuance/hashkit"
)

// rootEventSignature is the canonical event signature string; its keccak is
// topic zero of every MerkleRootSubmitted log.
const rootEventSignature = "MerkleRootSubmitted(uint256,bytes32,address,uint256)"

// RootEventTopic returns topic[0] for MerkleRootSubmitted.
func RootEventTopic() common.Hash {
	return common.BytesToHash(hashkit.Keccak256([]byte(rootEventSignature)))
}

// ParseRootEvent scans receipt logs for the first MerkleRootSubmitted
// emission. All three payload fields are indexed, so they live in the
// topics; the data segment carries the recorded block number.
func ParseRootEvent(logs []*types.Log) (*RootEvent, bool) {
	topic := RootEventTopic()
	for _, l := range logs {
		if len(l.Topics) != 4 || l.Topics[0] != topic {
			continue
		}
		ev := &RootEvent{
			TimeWindow: new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
			Root:       hex.EncodeToString(l.Topics[2].Bytes()),
			Issuer:     common.BytesToAddress(l.Topics[3].Bytes()).Hex(),
		}
		if len(l.Data) >= 32 {
			ev.BlockNumber = new(big.Int).SetBytes(l.Data[:32]).Uint64()
		} else {
			ev.BlockNumber = l.BlockNumber
		}
		return ev, true
	}
	return nil, false
}
