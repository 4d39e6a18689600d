package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseTopic converts a topic filter into a hash. An empty string or "*" is a
// wildcard and yields nil. A value containing "(" is treated as an event
// signature such as "Transfer(address,address,uint256)" and hashed with keccak256.
func ParseTopic(input string) (*common.Hash, error) {
	input = strings.TrimSpace(input)
	if input == "" || input == "*" {
		return nil, nil
	}
	if strings.Contains(input, "(") {
		hash := crypto.Keccak256Hash([]byte(strings.ReplaceAll(input, " ", "")))
		return &hash, nil
	}
	data, err := hexutil.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("invalid topic: %s", input)
	}
	if len(data) != common.HashLength {
		return nil, fmt.Errorf("invalid topic length: %s", input)
	}
	hash := common.BytesToHash(data)
	return &hash, nil
}

// ParseTopics parses positional topic filters. Trailing wildcards are dropped.
func ParseTopics(inputs []string) ([]*common.Hash, error) {
	if len(inputs) > MaxTopics {
		return nil, fmt.Errorf("at most %d topics are supported", MaxTopics)
	}
	topics := make([]*common.Hash, 0, len(inputs))
	for i, input := range inputs {
		topic, err := ParseTopic(input)
		if err != nil {
			return nil, fmt.Errorf("topic%d: %w", i, err)
		}
		topics = append(topics, topic)
	}
	for len(topics) > 0 && topics[len(topics)-1] == nil {
		topics = topics[:len(topics)-1]
	}
	return topics, nil
}

// AddressTopic left-pads an address into a 32-byte topic value.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
