package clients

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// PromptPaidABI declares the event emitted by the payment contract.
// The model is an indexed string, so only its keccak256 hash is on chain.
const PromptPaidABI = `[{
	"anonymous": false,
	"inputs": [
	  {"indexed": true,  "name": "user",             "type": "address"},
	  {"indexed": true,  "name": "model",            "type": "string"},
	  {"indexed": false, "name": "amount",           "type": "uint256"},
	  {"indexed": false, "name": "timestamp",        "type": "uint256"},
	  {"indexed": false, "name": "userTotalPrompts", "type": "uint256"}
	],
	"name": "PromptPaid",
	"type": "event"
}]`

var promptPaidABI = mustParseABI(PromptPaidABI)

// PromptPaidTopic is keccak256("PromptPaid(address,string,uint256,uint256,uint256)").
var PromptPaidTopic = promptPaidABI.Events["PromptPaid"].ID

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// PromptPaidEvent is one decoded PromptPaid log.
type PromptPaidEvent struct {
	User             common.Address
	ModelHash        common.Hash
	Amount           *big.Int
	Timestamp        *big.Int
	UserTotalPrompts *big.Int
	LogIndex         uint
}

// ModelHash returns the topic value an indexed string model id produces.
func ModelHash(modelID string) common.Hash {
	return crypto.Keccak256Hash([]byte(modelID))
}

// DecodePromptPaid returns the PromptPaid events in receipt that were
// emitted by contract. Logs from other addresses, with other signatures or
// that fail to decode are skipped.
func DecodePromptPaid(receipt *ethtypes.Receipt, contract common.Address) []PromptPaidEvent {
	if receipt == nil {
		return nil
	}

	var events []PromptPaidEvent
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		ev, err := decodePromptPaidLog(lg)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

func decodePromptPaidLog(lg *ethtypes.Log) (PromptPaidEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != PromptPaidTopic {
		return PromptPaidEvent{}, fmt.Errorf("not a PromptPaid log")
	}

	values, err := promptPaidABI.Events["PromptPaid"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return PromptPaidEvent{}, fmt.Errorf("unpack PromptPaid data: %w", err)
	}
	if len(values) != 3 {
		return PromptPaidEvent{}, fmt.Errorf("unexpected PromptPaid field count %d", len(values))
	}

	amount, ok1 := values[0].(*big.Int)
	timestamp, ok2 := values[1].(*big.Int)
	total, ok3 := values[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return PromptPaidEvent{}, fmt.Errorf("unexpected PromptPaid field types")
	}

	return PromptPaidEvent{
		User:             common.BytesToAddress(lg.Topics[1].Bytes()),
		ModelHash:        lg.Topics[2],
		Amount:           amount,
		Timestamp:        timestamp,
		UserTotalPrompts: total,
		LogIndex:         lg.Index,
	}, nil
}

// EncodePromptPaidLog builds the log the payment contract would emit. It is
// used by the CLI and by tests to fabricate receipts.
func EncodePromptPaidLog(contract, user common.Address, modelID string, amount, timestamp, total *big.Int) (*ethtypes.Log, error) {
	data, err := promptPaidABI.Events["PromptPaid"].Inputs.NonIndexed().Pack(amount, timestamp, total)
	if err != nil {
		return nil, fmt.Errorf("pack PromptPaid data: %w", err)
	}
	return &ethtypes.Log{
		Address: contract,
		Topics: []common.Hash{
			PromptPaidTopic,
			common.BytesToHash(user.Bytes()),
			ModelHash(modelID),
		},
		Data: data,
	}, nil
}
