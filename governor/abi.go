// Package governor encodes the calls of the governance contracts a proposal moves through and
// reads their views.
package governor

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const governorABIJSON = `[
	{
		"type": "function", "name": "propose", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "targets", "type": "address[]"},
			{"name": "values", "type": "uint256[]"},
			{"name": "calldatas", "type": "bytes[]"},
			{"name": "description", "type": "string"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "castVote", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "proposalId", "type": "uint256"},
			{"name": "support", "type": "uint8"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "queue", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "targets", "type": "address[]"},
			{"name": "values", "type": "uint256[]"},
			{"name": "calldatas", "type": "bytes[]"},
			{"name": "descriptionHash", "type": "bytes32"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "execute", "stateMutability": "payable",
		"inputs": [
			{"name": "targets", "type": "address[]"},
			{"name": "values", "type": "uint256[]"},
			{"name": "calldatas", "type": "bytes[]"},
			{"name": "descriptionHash", "type": "bytes32"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "hashProposal", "stateMutability": "pure",
		"inputs": [
			{"name": "targets", "type": "address[]"},
			{"name": "values", "type": "uint256[]"},
			{"name": "calldatas", "type": "bytes[]"},
			{"name": "descriptionHash", "type": "bytes32"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "state", "stateMutability": "view",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint8"}]
	},
	{
		"type": "function", "name": "proposalSnapshot", "stateMutability": "view",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "proposalDeadline", "stateMutability": "view",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "proposalEta", "stateMutability": "view",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "proposalVotes", "stateMutability": "view",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": [
			{"name": "againstVotes", "type": "uint256"},
			{"name": "forVotes", "type": "uint256"},
			{"name": "abstainVotes", "type": "uint256"}
		]
	},
	{
		"type": "function", "name": "quorum", "stateMutability": "view",
		"inputs": [{"name": "timepoint", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "quorumNumerator", "stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "token", "stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"type": "event", "name": "ProposalCreated", "anonymous": false,
		"inputs": [
			{"name": "proposalId", "type": "uint256", "indexed": false},
			{"name": "proposer", "type": "address", "indexed": false},
			{"name": "targets", "type": "address[]", "indexed": false},
			{"name": "values", "type": "uint256[]", "indexed": false},
			{"name": "signatures", "type": "string[]", "indexed": false},
			{"name": "calldatas", "type": "bytes[]", "indexed": false},
			{"name": "voteStart", "type": "uint256", "indexed": false},
			{"name": "voteEnd", "type": "uint256", "indexed": false},
			{"name": "description", "type": "string", "indexed": false}
		]
	}
]`

// The inline DAO executes the proposal inside the vote that reaches the threshold.
const inlineDAOABIJSON = `[
	{
		"type": "function", "name": "propose", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"},
			{"name": "description", "type": "string"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "vote", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "proposalId", "type": "uint256"},
			{"name": "support", "type": "bool"}
		],
		"outputs": []
	}
]`

const tokenABIJSON = `[
	{
		"type": "function", "name": "delegate", "stateMutability": "nonpayable",
		"inputs": [{"name": "delegatee", "type": "address"}],
		"outputs": []
	},
	{
		"type": "function", "name": "getVotes", "stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "balanceOf", "stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function", "name": "totalSupply", "stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

const treasuryABIJSON = `[
	{
		"type": "function", "name": "executePayment", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function", "name": "execute", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"outputs": [{"name": "", "type": "bytes"}]
	},
	{
		"type": "function", "name": "setAllowedTarget", "stateMutability": "nonpayable",
		"inputs": [
			{"name": "target", "type": "address"},
			{"name": "allowed", "type": "bool"}
		],
		"outputs": []
	}
]`

var (
	// GovernorABI is the OpenZeppelin Governor surface used by the timelock variant.
	GovernorABI = mustParseABI(governorABIJSON)
	// InlineDAOABI is the legacy DAO surface used by the inline variant.
	InlineDAOABI = mustParseABI(inlineDAOABIJSON)
	// TokenABI is the ERC20Votes surface.
	TokenABI = mustParseABI(tokenABIJSON)
	// TreasuryABI covers both the basic and the secure treasury.
	TreasuryABI = mustParseABI(treasuryABIJSON)
)

func mustParseABI(abiJSON string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic("failed to parse ABI: " + err.Error())
	}

	return &parsed
}
