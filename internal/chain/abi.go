package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// zaMailABI is the interface of the ZaMail contract the client uses.
const zaMailABI = `[
  {
    "type": "function",
    "name": "sendMessage",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "to", "type": "address"},
      {"name": "encryptedContent", "type": "bytes32"},
      {"name": "inputProof", "type": "bytes"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getSentMessages",
    "stateMutability": "view",
    "inputs": [{"name": "user", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256[]"}]
  },
  {
    "type": "function",
    "name": "getReceivedMessages",
    "stateMutability": "view",
    "inputs": [{"name": "user", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256[]"}]
  },
  {
    "type": "function",
    "name": "getMessageContent",
    "stateMutability": "view",
    "inputs": [{"name": "messageId", "type": "uint256"}],
    "outputs": [{"name": "", "type": "bytes32"}]
  },
  {
    "type": "event",
    "name": "MessageSent",
    "anonymous": false,
    "inputs": [
      {"name": "messageId", "type": "uint256", "indexed": true},
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true}
    ]
  }
]`

const (
	methodSend       = "sendMessage"
	methodSent       = "getSentMessages"
	methodReceived   = "getReceivedMessages"
	methodContent    = "getMessageContent"
	eventMessageSent = "MessageSent"
)

// ZaMailABI returns the parsed contract interface.
var ZaMailABI = sync.OnceValue(func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(zaMailABI))
	if err != nil {
		panic(err)
	}

	return parsed
})
